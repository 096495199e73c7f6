package limbs

import (
	"math"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type LimbsSuite struct{}

var _ = Suite(&LimbsSuite{})

func mustLabels(c *C, values []float32, numDims int) Labels {
	l, err := NewLabels(values, numDims)
	c.Assert(err, IsNil)
	return l
}

func (s *LimbsSuite) TestNewLabels(c *C) {
	l := mustLabels(c, []float32{1, 2, 3, 4, 5, 6}, 3)
	c.Assert(l.NumTuples(), Equals, 2)
	c.Assert(l.Tuple(1), DeepEquals, []float32{4, 5, 6})

	_, err := NewLabels([]float32{1, 2, 3, 4}, 3)
	c.Assert(err, NotNil)
	c.Assert(IsShapeError(err), Equals, true)
}

func (s *LimbsSuite) TestTile(c *C) {
	c.Assert(Tile([]float32{1, 2, 3}, 3), DeepEquals, []float32{1, 2, 3, 1, 2, 3, 1, 2, 3})
	c.Assert(Tile([]float32{7}, 0), HasLen, 0)
}

func (s *LimbsSuite) TestMayaToPixel(c *C) {
	l := mustLabels(c, []float32{1, 2, 3, -1, -2, -3}, 3)
	got, err := ConvertMayaToPixel(l, []float32{10, 10, 1}, [2]float32{50, 40})
	c.Assert(err, IsNil)
	// x: 1*10 + 50 = 60; y: -(2*10 - 40) = 20; z unchanged.
	c.Assert(got.Values, DeepEquals, []float32{60, 20, 3, 40, 60, -3})
	c.Assert(l.Values[0], Equals, float32(1))

	_, err = ConvertMayaToPixel(l, []float32{1, 1}, [2]float32{0, 0})
	c.Assert(err, NotNil)
}

func (s *LimbsSuite) TestResizeLabelCoordinates(c *C) {
	l := mustLabels(c, []float32{10, 20, 30, 40, 50, 60}, 3)
	got, err := ResizeLabelCoordinates(l, []int{50, 100, 1}, []int{100, 200, 1})
	c.Assert(err, IsNil)
	c.Assert(got.Values, DeepEquals, []float32{5, 10, 30, 20, 25, 60})

	_, err = ResizeLabelCoordinates(l, []int{50, 50}, []int{100, 200})
	c.Assert(err, ErrorMatches, ".*ratios must match, got 0.5 ≠ 0.25")
	c.Assert(IsShapeError(err), Equals, true)
}

func (s *LimbsSuite) TestFlipIsInvolution(c *C) {
	l := mustLabels(c, []float32{1.5, 2, 3, 100, -4, 7, 0, 0, 0}, 3)
	once := FlipLRCoordinates(l, 128)
	c.Assert(once.Values[0], Equals, float32(126.5))
	c.Assert(once.Values[1], Equals, float32(2))
	twice := FlipLRCoordinates(once, 128)
	c.Assert(twice.Values, DeepEquals, l.Values)
}

func (s *LimbsSuite) TestApplyCropCoordinates(c *C) {
	l := mustLabels(c, []float32{30, 40, 5, 12, 16, 6}, 3)
	got, err := ApplyCropCoordinates(l, Crop{HMin: 10, HMax: 74, WMin: 4, WMax: 68})
	c.Assert(err, IsNil)
	c.Assert(got.Values, DeepEquals, []float32{20, 36, 5, 2, 12, 6})
}

func (s *LimbsSuite) TestClipToValue(c *C) {
	nan := float32(math.NaN())
	got := ClipToValue([]float32{-1, 0, 0.5, 1, 2, nan}, 0, 1)
	c.Assert(got[:5], DeepEquals, []float32{0, 0, 0.5, 1, 0})
	c.Assert(math.IsNaN(float64(got[5])), Equals, true)
}

func (s *LimbsSuite) TestNormalizeRoundTrip(c *C) {
	l := mustLabels(c, []float32{12.5, 100, 3000, 64, 1, 17}, 3)
	size := []int{128, 160, 1}
	norm, err := NormalizeLabels(l, size, 4000)
	c.Assert(err, IsNil)
	c.Assert(norm.Values[0], Equals, float32(12.5)/128)
	c.Assert(norm.Values[1], Equals, float32(100)/160)
	c.Assert(norm.Values[2], Equals, float32(3000)/4000)

	back, err := DenormalizeLabels(norm, size, 4000)
	c.Assert(err, IsNil)
	for i, v := range back.Values {
		c.Assert(math.Abs(float64(v-l.Values[i])) < 1e-3, Equals, true)
	}
}

func (s *LimbsSuite) TestDropAxis(c *C) {
	l := mustLabels(c, []float32{1, 2, 3, 4, 5, 6}, 3)
	got, err := DropAxis(l, 2)
	c.Assert(err, IsNil)
	c.Assert(got.NumDims, Equals, 2)
	c.Assert(got.Values, DeepEquals, []float32{1, 2, 4, 5})
}

func (s *LimbsSuite) TestChain(c *C) {
	l := mustLabels(c, []float32{100, 100, 9}, 3)
	t, err := Chain(Resize([]int{50, 50}, []int{100, 100}), CropShift(Crop{HMin: 5, WMin: 10}))
	c.Assert(err, IsNil)
	c.Assert(t.Axes(), Equals, AxesXY)
	got, err := t.Apply(l)
	c.Assert(err, IsNil)
	c.Assert(got.Values, DeepEquals, []float32{45, 40, 9})

	_, err = Chain(Resize([]int{50, 50}, []int{100, 100}), Resize([]int{50, 50}, []int{100, 100}))
	c.Assert(err, NotNil)
}

func (s *LimbsSuite) TestBackgroundSubstitution(c *C) {
	img := NewImage(2, 2, 1)
	copy(img.Data, []float32{0, 5, -2, 0})
	got := img.SubstituteBackground(101)
	c.Assert(got.Data, DeepEquals, []float32{101, 5, -2, 101})
	c.Assert(img.Data[0], Equals, float32(0))

	again := got.SubstituteBackground(101)
	c.Assert(again.Data, DeepEquals, got.Data)
}

func (s *LimbsSuite) TestImageSliceAndChannel(c *C) {
	data := make([]float32, 4*4*2)
	for i := range data {
		data[i] = float32(i)
	}
	img, err := ImageFromData(data, []int{4, 4, 2})
	c.Assert(err, IsNil)

	sub, err := img.Slice(1, 2, 2, 2)
	c.Assert(err, IsNil)
	c.Assert(sub.Shape(), DeepEquals, []int{2, 2, 2})
	c.Assert(sub.At(0, 0, 0), Equals, img.At(1, 2, 0))
	c.Assert(sub.At(1, 1, 1), Equals, img.At(2, 3, 1))

	_, err = img.Slice(3, 3, 2, 2)
	c.Assert(err, NotNil)

	ch, err := img.Channel(1)
	c.Assert(err, IsNil)
	c.Assert(ch.Channels, Equals, 1)
	c.Assert(ch.At(2, 1, 0), Equals, img.At(2, 1, 1))

	_, err = ImageFromData(data, []int{4, 4, 3})
	c.Assert(IsShapeError(err), Equals, true)
}

func (s *LimbsSuite) TestConfigError(c *C) {
	err := NewConfigError("max_value", "max value must be provided")
	c.Assert(IsConfigError(err), Equals, true)
	c.Assert(err, ErrorMatches, `.*"max_value": max value must be provided`)
}

func (s *LimbsSuite) TestCommand(c *C) {
	cmd := Command([]string{"inspect", "a.tfrecords", "max=5", "b.tfrecords", "c"})
	c.Assert(cmd.Name(), Equals, "inspect")

	v, found := cmd.Parameter("max")
	c.Assert(found, Equals, true)
	c.Assert(v, Equals, "5")
	_, found = cmd.Parameter("min")
	c.Assert(found, Equals, false)

	n, err := cmd.IntParameter("max", 1)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 5)
	n, err = cmd.IntParameter("limit", 7)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 7)
	_, err = Command([]string{"x", "max=lots"}).IntParameter("max", 0)
	c.Assert(IsConfigError(err), Equals, true)

	var first, second string
	overflow := cmd.CommandArgs(&first, &second)
	c.Assert(first, Equals, "a.tfrecords")
	c.Assert(second, Equals, "b.tfrecords")
	c.Assert(overflow, DeepEquals, []string{"c"})
}

type countingLogger struct {
	debug, info, warning int
}

func (l *countingLogger) Debugf(format string, args ...interface{})    { l.debug++ }
func (l *countingLogger) Infof(format string, args ...interface{})     { l.info++ }
func (l *countingLogger) Warningf(format string, args ...interface{})  { l.warning++ }
func (l *countingLogger) Errorf(format string, args ...interface{})    {}
func (l *countingLogger) Criticalf(format string, args ...interface{}) {}
func (l *countingLogger) Shutdown()                                    {}

func (s *LimbsSuite) TestLogLevel(c *C) {
	saved, savedMode, savedVerbose := logger, LogMode(), Verbose
	defer func() {
		logger, Verbose = saved, savedVerbose
		SetLogMode(savedMode)
	}()
	rec := &countingLogger{}
	logger, Verbose = rec, false

	m, err := ParseLogMode(" Warning")
	c.Assert(err, IsNil)
	c.Assert(m, Equals, WarningMode)
	_, err = ParseLogMode("loud")
	c.Assert(err, NotNil)

	cfg := &LogConfig{Level: "warning"}
	cfg.SetLogger()
	c.Assert(LogMode(), Equals, WarningMode)
	Debugf("hidden\n")
	Infof("hidden\n")
	Warningf("shown\n")
	c.Assert(*rec, Equals, countingLogger{warning: 1})

	cfg = &LogConfig{Level: "debug"}
	cfg.SetLogger()
	Debugf("shown\n")
	c.Assert(rec.debug, Equals, 1)

	// Verbose keeps debug output even when the config asks for less.
	SetLogMode(DebugMode)
	Verbose = true
	cfg = &LogConfig{Level: "error"}
	cfg.SetLogger()
	c.Assert(LogMode(), Equals, DebugMode)
}
