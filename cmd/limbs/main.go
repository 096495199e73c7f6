// Command-line interface for building joint-coordinate record files and
// streaming decoded batches from them.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/limbs/config"
	"github.com/janelia-flyem/limbs/dataset"
	"github.com/janelia-flyem/limbs/export"
	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/pipeline"
	"github.com/janelia-flyem/limbs/record"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML configuration file.
	configFile = flag.String("config", "limbs.toml", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")
)

const helpMessage = `
limbs builds record files of images and joint-coordinate labels, and streams
shuffled, augmented and normalized batches from them.

Usage: limbs [options] <command>

      -config     =string   TOML configuration file (default limbs.toml).
      -cpuprofile =string   Write CPU profile to this file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	build                          Write train/val/test record files from [dataset].
	inspect <record file> [max=N]  Count records and describe the first N (default 1).
	stats <sidecar file>           Print a statistics sidecar.
	stream [train|val] [out=<arrow file>] [batches=N]
	                               Stream batches using [pipeline] and [train],
	                               optionally exporting them as an Arrow IPC stream.
	version
	help
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		limbs.Verbose = true
		limbs.SetLogMode(limbs.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Capture ctrl+c and other interrupts to stop streaming gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := DoCommand(ctx, limbs.Command(flag.Args()))
	limbs.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd limbs.Command) error {
	switch cmd.Name() {
	case "":
		return fmt.Errorf("Blank command!")
	case "version":
		fmt.Printf("limbs %s\n", limbs.Version)
		return nil
	case "inspect":
		return DoInspect(ctx, cmd, os.Stdout)
	case "stats":
		return DoStats(ctx, cmd, os.Stdout)
	case "build":
		return DoBuild(ctx)
	case "stream":
		return DoStream(ctx, cmd)
	default:
		return fmt.Errorf("unknown command %q, try 'limbs help'", cmd.Name())
	}
}

func loadConfig() (*config.Config, error) {
	c, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	c.Logging.SetLogger()
	limbs.Debugf("Configuration from %s:\n%s\n", c.Location(), c)
	return c, nil
}

// DoBuild performs the "build" command, writing record files for the dataset.
func DoBuild(ctx context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	bc, err := c.BuilderConfig()
	if err != nil {
		return err
	}
	b, err := dataset.NewBuilder(bc)
	if err != nil {
		return err
	}
	results, err := b.Build(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%-6s %6d records  %10s  %s\n", r.Name, r.Records, humanize.Bytes(uint64(r.Bytes)), r.RecordRef)
	}
	return nil
}

// DoInspect performs the "inspect" command on a record file.
func DoInspect(ctx context.Context, cmd limbs.Command, w io.Writer) error {
	var ref string
	cmd.CommandArgs(&ref)
	if ref == "" {
		return fmt.Errorf("inspect command must be followed by a record file")
	}
	max, err := cmd.IntParameter("max", 1)
	if err != nil {
		return err
	}
	src := record.NewFileSource(ref)
	it, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	var n int
	var total uint64
	for {
		data, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		if n < max {
			names, err := record.FeatureNames(data)
			if err != nil {
				return fmt.Errorf("record %d: %w", n, err)
			}
			fmt.Fprintf(w, "record %d: %s, features %s\n", n, humanize.Bytes(uint64(len(data))), strings.Join(names, ", "))
		}
		total += uint64(len(data))
		n++
	}
	fmt.Fprintf(w, "%s: %d records, %s of payload\n", src, n, humanize.Bytes(total))
	return nil
}

// DoStats performs the "stats" command on a statistics sidecar.
func DoStats(ctx context.Context, cmd limbs.Command, w io.Writer) error {
	var ref string
	cmd.CommandArgs(&ref)
	if ref == "" {
		return fmt.Errorf("stats command must be followed by a sidecar file")
	}
	s, err := dataset.ReadStats(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, s)
	return nil
}

// batchLogger reports each batch and flags non-finite values.
type batchLogger struct {
	n int
}

func (l *batchLogger) Consume(ctx context.Context, b pipeline.Batch) error {
	if !b.Finite() {
		limbs.Warningf("Batch %d holds non-finite values\n", l.n)
	}
	limbs.Infof("Batch %d: %s\n", l.n, b)
	l.n++
	return nil
}

// limitedSource stops a batch source after max batches.
type limitedSource struct {
	src pipeline.BatchSource
	max int
	n   int
}

func (s *limitedSource) Next() (pipeline.Batch, error) {
	if s.max > 0 && s.n >= s.max {
		return pipeline.Batch{}, limbs.ErrEndOfStream
	}
	s.n++
	return s.src.Next()
}

// DoStream performs the "stream" command, producing batches from the train or
// val record file.
func DoStream(ctx context.Context, cmd limbs.Command) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	var which string
	cmd.CommandArgs(&which)
	if which == "" {
		which = "train"
	}
	var val bool
	var ref string
	switch which {
	case "train":
		ref = c.Train.TrainTFRecords
	case "val":
		val, ref = true, c.Train.ValTFRecords
	default:
		return fmt.Errorf("stream expects train or val, got %q", which)
	}
	if ref == "" {
		return limbs.NewConfigError("train."+which+"_tfrecords", "no record file configured for %s stream", which)
	}
	maxBatches, err := cmd.IntParameter("batches", 0)
	if err != nil {
		return err
	}

	dc, err := c.DecodeConfig(!val)
	if err != nil {
		return err
	}
	p, err := pipeline.NewProducer(c.Source(ref), dc, c.ProducerConfig(val))
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Close()

	var consumer pipeline.Consumer = &batchLogger{}
	if out, found := cmd.Parameter("out"); found {
		ew, err := export.Create(ctx, out)
		if err != nil {
			return err
		}
		consumer = ew
	}
	n, err := drainTo(ctx, &limitedSource{src: p, max: maxBatches}, consumer)
	read, skipped, _ := p.Stats()
	fmt.Printf("Streamed %d batches from %s (%d records read, %d skipped)\n", n, ref, read, skipped)
	return err
}

// drainTo feeds src to c and then closes c if it is an io.Closer.  The first
// of the drain and close errors is returned.  Cancellation is not an error.
func drainTo(ctx context.Context, src pipeline.BatchSource, c pipeline.Consumer) (int, error) {
	n, err := pipeline.Drain(ctx, src, c)
	if closer, ok := c.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	if errors.Is(err, context.Canceled) {
		return n, nil
	}
	return n, err
}
