package limbs

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

type stdLogger struct {
	*lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig is the [logging] section of the TOML configuration.
type LogConfig struct {
	Level   string `toml:"level" json:"level,omitempty"`
	Logfile string `toml:"logfile" json:"logfile,omitempty"`
	MaxSize int    `toml:"max_log_size" json:"max_log_size,omitempty"`
	MaxAge  int    `toml:"max_log_age" json:"max_log_age,omitempty"`
}

// SetLogger applies the configured level, unless Verbose overrides it, and
// creates a logger that saves to a rotating log file.
func (c *LogConfig) SetLogger() {
	if c != nil && c.Level != "" && !Verbose {
		m, err := ParseLogMode(c.Level)
		if err != nil {
			Warningf("Ignoring logging level: %v\n", err)
		} else {
			SetLogMode(m)
		}
	}
	if c == nil || c.Logfile == "" {
		Infof("Sending log messages to stdout since no log file specified.\n")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	logger = stdLogger{l}
}

// --- Logger implementation ----

func (slog stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (slog stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (slog stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (slog stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (slog stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (slog stdLogger) Shutdown() {
	if slog.Logger != nil {
		log.Printf("Closing log file...\n")
		slog.Close()
	}
}
