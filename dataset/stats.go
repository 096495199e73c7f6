package dataset

//go:generate msgp -io=false -tests=false

import (
	"context"
	"fmt"
	"io"

	"github.com/blang/semver"
	"github.com/twinj/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/record"
)

// StatsVersion is the sidecar format version.  Readers accept any sidecar with
// the same major version.
var StatsVersion = semver.MustParse("1.0.0")

// DefaultStatsFile is the sidecar suffix; sidecars are named <partition>_<suffix>.
const DefaultStatsFile = "max_values.msgp"

// Stats is the statistics sidecar written next to each partition's record file.
type Stats struct {
	Version   string     `msg:"version"`
	BuildID   string     `msg:"build_id"`
	Partition string     `msg:"partition"`
	MaxArray  []float64  `msg:"max_array"` // per-sample max intensity in record order
	Ratio     [2]float64 `msg:"ratio"`     // fraction of samples with class 0 and 1
}

// NewStats returns stats for a partition with a fresh build id.
func NewStats(partition string, maxArray []float64, labels []int) *Stats {
	s := &Stats{
		Version:   StatsVersion.String(),
		BuildID:   uuid.NewV4().String(),
		Partition: partition,
		MaxArray:  maxArray,
	}
	if len(labels) > 0 {
		var counts [2]float64
		for _, l := range labels {
			if l == 0 || l == 1 {
				counts[l]++
			}
		}
		n := float64(len(labels))
		s.Ratio = [2]float64{counts[0] / n, counts[1] / n}
	}
	return s
}

// MaxSummary returns the mean and standard deviation of the per-sample maxima.
func (s *Stats) MaxSummary() (mean, std float64) {
	if len(s.MaxArray) == 0 {
		return 0, 0
	}
	return stat.MeanStdDev(s.MaxArray, nil)
}

// Max returns the largest per-sample max, a natural max_value for decoding.
func (s *Stats) Max() float64 {
	var m float64
	for i, v := range s.MaxArray {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}

func (s *Stats) String() string {
	mean, std := s.MaxSummary()
	return fmt.Sprintf("%s stats v%s (build %s): %d samples, max intensity %.4g (mean %.4g, std %.4g), ratio %v",
		s.Partition, s.Version, s.BuildID, len(s.MaxArray), s.Max(), mean, std, s.Ratio)
}

// StatsRef returns where the sidecar of a partition lives in dir.
func StatsRef(dir, partition, suffix string) string {
	if suffix == "" {
		suffix = DefaultStatsFile
	}
	return record.JoinRef(dir, partition+"_"+suffix)
}

// WriteStats stores the sidecar at ref, a local path or bucket URL.
func WriteStats(ctx context.Context, ref string, s *Stats) error {
	b, err := s.MarshalMsg(nil)
	if err != nil {
		return err
	}
	w, err := record.CreateFile(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadStats loads a sidecar and checks its format version.
func ReadStats(ctx context.Context, ref string) (*Stats, error) {
	r, err := record.OpenFile(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s := new(Stats)
	if _, err := s.UnmarshalMsg(b); err != nil {
		return nil, fmt.Errorf("bad stats sidecar %q: %w", ref, err)
	}
	ver, err := semver.Make(s.Version)
	if err != nil {
		return nil, fmt.Errorf("bad stats sidecar version %q in %q: %w", s.Version, ref, err)
	}
	if ver.Major != StatsVersion.Major {
		return nil, limbs.NewConfigError("stats", "sidecar %q has version %s, can only read %d.x", ref, ver, StatsVersion.Major)
	}
	return s, nil
}
