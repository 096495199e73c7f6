package limbs

import (
	"errors"
	"fmt"
)

// ErrEndOfStream is returned once a bounded record stream has been exhausted and
// every buffered sample has been handed out.  It is not a failure.
var ErrEndOfStream = errors.New("end of stream")

// ConfigError signals a fatal configuration problem detected before any record is
// processed, e.g., a missing max value or an unsupported image extension.
type ConfigError struct {
	Setting string
	Msg     string
}

func (e *ConfigError) Error() string {
	if e.Setting == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error in %q: %s", e.Setting, e.Msg)
}

// NewConfigError returns a *ConfigError for the given setting.
func NewConfigError(setting, format string, args ...interface{}) error {
	return &ConfigError{Setting: setting, Msg: fmt.Sprintf(format, args...)}
}

// ShapeError signals a violated size or shape precondition.  A record that
// produces a ShapeError is considered corrupt.
type ShapeError struct {
	Op  string
	Msg string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// NewShapeError returns a *ShapeError for the given operation.
func NewShapeError(op, format string, args ...interface{}) error {
	return &ShapeError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError returns true if err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsShapeError returns true if err is or wraps a *ShapeError.
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}
