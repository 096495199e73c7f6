package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/record"
)

// DefaultChunkSize is the number of images loaded concurrently before writing.
const DefaultChunkSize = 64

// Config describes a dataset build.
type Config struct {
	Root    string   // directory with one subdirectory per class
	Subdirs []string // class subdirectories; empty means all
	ImExt   string

	OutputDir string // local path or bucket URL

	TrainProportion float64
	Partitions      Partitions

	// Resize optionally scales every image to (H, W) before encoding.
	Resize []int

	// LabelExt names per-image label files, <stem><LabelExt>, holding joint
	// coordinates.  Without it the class id is written as the label.
	LabelExt     string
	OcclusionExt string

	StatsFile   string // sidecar suffix, default DefaultStatsFile
	Compression record.Compression
	NumWorkers  int
	Seed        int64
}

// Builder writes record files for a dataset tree.
type Builder struct {
	cfg Config
	rng *rand.Rand
}

// PartitionResult summarizes one written partition.
type PartitionResult struct {
	Name      string
	RecordRef string
	StatsRef  string
	Records   int
	Bytes     int64
	Stats     *Stats
}

// NewBuilder validates the configuration.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Root == "" {
		return nil, limbs.NewConfigError("train_directory", "dataset root must be provided")
	}
	if cfg.OutputDir == "" {
		return nil, limbs.NewConfigError("tfrecord_dir", "output directory must be provided")
	}
	if !SupportedExt(cfg.ImExt) {
		return nil, limbs.NewConfigError("im_ext", "unsupported image extension %q", cfg.ImExt)
	}
	if len(cfg.Resize) != 0 && (len(cfg.Resize) < 2 || cfg.Resize[0] <= 0 || cfg.Resize[1] <= 0) {
		return nil, limbs.NewConfigError("resize", "need positive (H, W), got %v", cfg.Resize)
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.StatsFile == "" {
		cfg.StatsFile = DefaultStatsFile
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Builder{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// RecordName returns the record file name of a partition, with a suffix that
// lets readers detect the compression.
func RecordName(partition string, compress record.Compression) string {
	name := partition + ".tfrecords"
	switch compress {
	case record.GZIP:
		name += ".gz"
	case record.ZLIB:
		name += ".zz"
	case record.Snappy:
		name += ".sz"
	}
	return name
}

// Build scans, splits and writes every partition.
func (b *Builder) Build(ctx context.Context) ([]PartitionResult, error) {
	timedLog := limbs.NewTimeLog()
	files, classes, err := Scan(b.cfg.Root, b.cfg.Subdirs, b.cfg.ImExt)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found under %q", b.cfg.ImExt, b.cfg.Root)
	}
	limbs.Infof("Found %d files in %d classes under %s\n", len(files), len(classes), b.cfg.Root)

	if err := b.writeLines(ctx, "labels.txt", labelLines(classes)); err != nil {
		return nil, err
	}
	parts, err := Split(files, b.cfg.TrainProportion, b.cfg.Partitions, b.rng)
	if err != nil {
		return nil, err
	}
	var results []PartitionResult
	for _, part := range parts {
		paths := make([]string, len(part.Files))
		for i, f := range part.Files {
			paths[i] = f.Path
		}
		if err := b.writeLines(ctx, part.Name+"_files.txt", paths); err != nil {
			return nil, err
		}
		res, err := b.writePartition(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", part.Name, err)
		}
		results = append(results, res)
	}
	timedLog.Infof("Built %d partitions in %s", len(results), b.cfg.OutputDir)
	return results, nil
}

func labelLines(classes []string) []string {
	lines := make([]string, len(classes))
	for i, c := range classes {
		lines[i] = fmt.Sprintf("%d:%s", i, c)
	}
	return lines
}

func (b *Builder) writeLines(ctx context.Context, name string, lines []string) error {
	w, err := record.CreateFile(ctx, record.JoinRef(b.cfg.OutputDir, name))
	if err != nil {
		return err
	}
	var text string
	if len(lines) > 0 {
		text = strings.Join(lines, "\n") + "\n"
	}
	if _, err := w.Write([]byte(text)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// loadExample reads an image and its optional label and occlusion files.
func (b *Builder) loadExample(f File) (record.Example, float64, error) {
	img, err := LoadImage(f.Path, b.cfg.Resize)
	if err != nil {
		return record.Example{}, 0, err
	}
	ex := record.Example{Image: img.Data, Label: record.ClassLabel(int64(f.Label))}
	stem := strings.TrimSuffix(f.Path, filepath.Ext(f.Path))
	if b.cfg.LabelExt != "" {
		values, err := ReadFloats(stem + b.cfg.LabelExt)
		if err != nil {
			return record.Example{}, 0, err
		}
		ex.Label = record.FloatLabel(values)
	}
	if b.cfg.OcclusionExt != "" {
		if ex.Occlusion, err = ReadFloats(stem + b.cfg.OcclusionExt); err != nil {
			return record.Example{}, 0, err
		}
	}
	return ex, float64(img.Max()), nil
}

func (b *Builder) writePartition(ctx context.Context, part Partition) (PartitionResult, error) {
	res := PartitionResult{
		Name:      part.Name,
		RecordRef: record.JoinRef(b.cfg.OutputDir, RecordName(part.Name, b.cfg.Compression)),
		StatsRef:  StatsRef(b.cfg.OutputDir, part.Name, b.cfg.StatsFile),
	}
	f, err := record.CreateFile(ctx, res.RecordRef)
	if err != nil {
		return res, err
	}
	w, err := record.NewWriter(f, b.cfg.Compression)
	if err != nil {
		f.Abort()
		return res, err
	}
	// A failed partition leaves neither a truncated record file nor a sidecar.
	abort := func(err error) (PartitionResult, error) {
		w.Close()
		if aerr := f.Abort(); aerr != nil {
			limbs.Errorf("Unable to discard partial record file %s: %v\n", res.RecordRef, aerr)
		}
		return res, err
	}

	maxArray := make([]float64, len(part.Files))
	labels := make([]int, len(part.Files))
	for start := 0; start < len(part.Files); start += DefaultChunkSize {
		end := start + DefaultChunkSize
		if end > len(part.Files) {
			end = len(part.Files)
		}
		encoded := make([][]byte, end-start)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.cfg.NumWorkers)
		for i := start; i < end; i++ {
			file := part.Files[i]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				ex, maxVal, err := b.loadExample(file)
				if err != nil {
					return err
				}
				data, err := record.Encode(ex)
				if err != nil {
					return fmt.Errorf("%s: %w", file.Path, err)
				}
				encoded[i-start] = data
				maxArray[i] = maxVal
				labels[i] = file.Label
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return abort(err)
		}
		for _, data := range encoded {
			if err := w.Write(data); err != nil {
				return abort(err)
			}
		}
		limbs.Debugf("Wrote %d of %d %s records\n", end, len(part.Files), part.Name)
	}
	if err := w.Close(); err != nil {
		return abort(err)
	}
	if err := f.Close(); err != nil {
		record.RemoveFile(ctx, res.RecordRef)
		return res, err
	}
	res.Records = w.Count()
	res.Bytes = w.Written()

	res.Stats = NewStats(part.Name, maxArray, labels)
	if err := WriteStats(ctx, res.StatsRef, res.Stats); err != nil {
		if rerr := record.RemoveFile(ctx, res.RecordRef); rerr != nil {
			limbs.Errorf("Unable to remove record file %s: %v\n", res.RecordRef, rerr)
		}
		return res, err
	}
	limbs.Infof("Wrote %d records (%s) to %s\n", res.Records, humanize.Bytes(uint64(res.Bytes)), res.RecordRef)
	limbs.Infof("%s\n", res.Stats)
	return res, nil
}
