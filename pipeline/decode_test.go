package pipeline

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/janelia-flyem/limbs/augment"
	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/record"
)

func floatPtr(v float32) *float32 {
	return &v
}

func encodeRecord(t *testing.T, image, label, occlusion []float32) []byte {
	b, err := record.Encode(record.Example{Image: image, Label: record.FloatLabel(label), Occlusion: occlusion})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func rampValues(n int, start float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = start + float32(i)
	}
	return v
}

func basicConfig() DecodeConfig {
	return DecodeConfig{
		TargetSize: []int{4, 4, 1},
		LabelShape: 6,
		MaxValue:   floatPtr(10),
	}
}

func TestDecodeNeedsMaxValue(t *testing.T) {
	cfg := basicConfig()
	cfg.MaxValue = nil
	_, err := NewDecoder(cfg, nil)
	if !limbs.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(err.Error(), "max value must be provided") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestDecodeConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*DecodeConfig)
	}{
		{"label shape", func(c *DecodeConfig) { c.LabelShape = 7 }},
		{"target size", func(c *DecodeConfig) { c.TargetSize = []int{16} }},
		{"normalize without image size", func(c *DecodeConfig) { c.NormalizeLabels = true }},
		{"pixel space without sizes", func(c *DecodeConfig) {
			c.Augmentations = augment.NewSet(augment.ConvertLabelsToPixelSpace)
		}},
		{"clip z in 2d", func(c *DecodeConfig) { c.NumDims = 2; c.ClipZ = true }},
		{"clip z in 6d", func(c *DecodeConfig) { c.NumDims = 6; c.ClipZ = true }},
		{"zero image target size", func(c *DecodeConfig) {
			c.NormalizeLabels = true
			c.ImageTargetSize = []int{4, 0}
		}},
		{"negative image input size", func(c *DecodeConfig) { c.ImageInputSize = []int{-4, 4} }},
		{"zero model input shape", func(c *DecodeConfig) { c.ModelInputShape = []int{0, 4} }},
	}
	for _, tc := range tests {
		cfg := basicConfig()
		tc.modify(&cfg)
		if _, err := NewDecoder(cfg, nil); !limbs.IsConfigError(err) {
			t.Errorf("%s: expected config error, got %v", tc.name, err)
		}
	}

	cfg := basicConfig()
	cfg.Augmentations = augment.NewSet(augment.ConvertLabelsToPixelSpace)
	cfg.ImageTargetSize = []int{4, 4}
	cfg.ImageInputSize = []int{8, 4}
	_, err := NewDecoder(cfg, nil)
	if !limbs.IsShapeError(err) || !strings.Contains(err.Error(), "ratios must match") {
		t.Errorf("expected ratio shape error, got %v", err)
	}
}

// Three records of 6 label values and a 4x4x1 image, with z clipped.
func TestDecodeClipZScenario(t *testing.T) {
	cfg := basicConfig()
	cfg.ClipZ = true
	dec, err := NewDecoder(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		label := []float32{float32(i), float32(i) + 1, 7, float32(i) + 2, float32(i) + 3, 8}
		b := encodeRecord(t, rampValues(16, 1), label, nil)

		full, err := NewDecoder(basicConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		unclipped, err := full.Decode(b)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if unclipped.Label.Len() != 6 {
			t.Errorf("record %d: expected 6 label values, got %d", i, unclipped.Label.Len())
		}
		if shape := unclipped.Image.Shape(); !reflect.DeepEqual(shape, []int{4, 4, 1}) {
			t.Errorf("record %d: expected image shape (4,4,1), got %v", i, shape)
		}

		sample, err := dec.Decode(b)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		want := []float32{label[0], label[1], label[3], label[4]}
		if !reflect.DeepEqual(sample.Label.Values, want) || sample.Label.NumDims != 2 {
			t.Errorf("record %d: expected clipped label %v, got %v", i, want, sample.Label)
		}
		if !reflect.DeepEqual(sample.Image.Data, rampValues(16, 1)) {
			t.Errorf("record %d: non-zero image values should be unchanged", i)
		}
	}
}

func TestDecodeBackgroundAndNormalize(t *testing.T) {
	cfg := basicConfig()
	cfg.ImageTargetSize = []int{4, 4}
	cfg.NormalizeLabels = true
	dec, err := NewDecoder(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	image := rampValues(16, 0) // first pixel is background
	label := []float32{2, 4, 5, 1, 1, 10}
	sample, err := dec.Decode(encodeRecord(t, image, label, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantLabel := []float32{0.5, 1, 0.5, 0.25, 0.25, 1}
	if !reflect.DeepEqual(sample.Label.Values, wantLabel) {
		t.Errorf("expected normalized label %v, got %v", wantLabel, sample.Label.Values)
	}
	background := float32(DefaultBackgroundMultiplier) * 10
	if got := sample.Image.Data[0]; got != background/background {
		t.Errorf("background pixel should normalize to 1, got %g", got)
	}
	for i := 1; i < 16; i++ {
		if want := image[i] / background; sample.Image.Data[i] != want {
			t.Errorf("pixel %d: expected %g, got %g", i, want, sample.Image.Data[i])
		}
	}

	// Denormalizing recovers the label.
	back, err := limbs.DenormalizeLabels(sample.Label, cfg.ImageTargetSize, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range back.Values {
		if math.Abs(float64(v-label[i])) > 1e-5 {
			t.Errorf("denormalized value %d: expected %g, got %g", i, label[i], v)
		}
	}
}

func TestDecodePixelSpaceWithCrop(t *testing.T) {
	cfg := DecodeConfig{
		TargetSize:      []int{6, 6, 2},
		ModelInputShape: []int{4, 4},
		ImageTargetSize: []int{6, 6},
		ImageInputSize:  []int{12, 12},
		LabelShape:      3,
		MaxValue:        floatPtr(100),
		Augmentations:   augment.NewSet(augment.RandomCrop, augment.ConvertLabelsToPixelSpace),
		Train:           true,
	}
	dec, err := NewDecoder(cfg, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mirror, err := augment.New(augment.NewSet(augment.RandomCrop), []int{4, 4}, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatal(err)
	}
	image := rampValues(72, 1)
	for i := 0; i < 10; i++ {
		sample, err := dec.Decode(encodeRecord(t, image, []float32{8, 6, 20}, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		img, _ := limbs.ImageFromData(image, cfg.TargetSize)
		res, err := mirror.Apply(img)
		if err != nil || res.Crop == nil {
			t.Fatalf("expected crop, got %v", err)
		}
		want := []float32{4 - float32(res.Crop.HMin), 3 - float32(res.Crop.WMin), 20}
		if !reflect.DeepEqual(sample.Label.Values, want) {
			t.Errorf("crop %s: expected label %v, got %v", res.Crop, want, sample.Label.Values)
		}
		if shape := sample.Image.Shape(); !reflect.DeepEqual(shape, []int{4, 4, 1}) {
			t.Errorf("expected image shape (4,4,1), got %v", shape)
		}
	}
}

func TestDecodeRotateAndCropNonSquare(t *testing.T) {
	cfg := DecodeConfig{
		TargetSize:      []int{4, 8, 1},
		ModelInputShape: []int{4, 6},
		LabelShape:      3,
		MaxValue:        floatPtr(100),
		Augmentations:   augment.NewSet(augment.Rotate, augment.RandomCrop),
		Train:           true,
	}
	dec, err := NewDecoder(cfg, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := encodeRecord(t, rampValues(32, 1), []float32{1, 2, 3}, nil)
	for i := 0; i < 40; i++ {
		sample, err := dec.Decode(b)
		if err != nil {
			t.Fatalf("decode %d of a valid record failed: %v", i, err)
		}
		if shape := sample.Image.Shape(); !reflect.DeepEqual(shape, []int{4, 6, 1}) {
			t.Fatalf("decode %d: expected image shape (4,6,1), got %v", i, shape)
		}
	}
}

func TestDecodeCropLargerThanImage(t *testing.T) {
	cfg := DecodeConfig{
		TargetSize:      []int{4, 4, 1},
		ModelInputShape: []int{6, 4},
		ImageTargetSize: []int{4, 4},
		ImageInputSize:  []int{4, 4},
		LabelShape:      3,
		MaxValue:        floatPtr(100),
		Augmentations:   augment.NewSet(augment.RandomCrop, augment.ConvertLabelsToPixelSpace),
		Train:           true,
	}
	dec, err := NewDecoder(cfg, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	image := rampValues(16, 1)
	sample, err := dec.Decode(encodeRecord(t, image, []float32{2, 1, 5}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shape := sample.Image.Shape(); !reflect.DeepEqual(shape, []int{6, 4, 1}) {
		t.Fatalf("expected image shape (6,4,1), got %v", shape)
	}
	// One padded row above the whole image; labels move down with it.
	if want := []float32{3, 1, 5}; !reflect.DeepEqual(sample.Label.Values, want) {
		t.Errorf("expected label %v, got %v", want, sample.Label.Values)
	}
	if bg := dec.background; sample.Image.At(0, 0, 0) != bg || sample.Image.At(5, 3, 0) != bg {
		t.Errorf("padded rows should hold the background value %g", bg)
	}
	if sample.Image.At(1, 0, 0) != image[0] || sample.Image.At(4, 3, 0) != image[15] {
		t.Errorf("image rows not shifted by the padding")
	}
}

func TestDecodeEvalIgnoresImageAugmentations(t *testing.T) {
	cfg := basicConfig()
	cfg.Augmentations = augment.NewSet(augment.LeftRight, augment.UpDown, augment.RandomBrightness)
	dec, err := NewDecoder(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	sample, err := dec.Decode(encodeRecord(t, rampValues(16, 1), rampValues(6, 0), nil))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sample.Image.Data, rampValues(16, 1)) {
		t.Errorf("image should be untouched outside training")
	}
}

func TestDecodeOcclusions(t *testing.T) {
	cfg := basicConfig()
	cfg.Occlusions = true
	dec, err := NewDecoder(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	sample, err := dec.Decode(encodeRecord(t, rampValues(16, 1), rampValues(6, 0), []float32{1, 0}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(sample.Occlusion, []float32{1, 0}) {
		t.Errorf("expected occlusion [1 0], got %v", sample.Occlusion)
	}

	var perr *record.ParseError
	if _, err := dec.Decode(encodeRecord(t, rampValues(16, 1), rampValues(6, 0), nil)); !errors.As(err, &perr) {
		t.Errorf("expected parse error for record without occlusion, got %v", err)
	}
	plain, _ := NewDecoder(basicConfig(), nil)
	if _, err := plain.Decode(encodeRecord(t, rampValues(16, 1), rampValues(6, 0), []float32{1, 0})); !errors.As(err, &perr) {
		t.Errorf("expected parse error for unexpected occlusion, got %v", err)
	}
}

func TestDecodeSizeContract(t *testing.T) {
	dec, _ := NewDecoder(basicConfig(), nil)
	if _, err := dec.Decode(encodeRecord(t, rampValues(15, 1), rampValues(6, 0), nil)); !limbs.IsShapeError(err) {
		t.Errorf("expected shape error for short image, got %v", err)
	}
	if _, err := dec.Decode(encodeRecord(t, rampValues(16, 1), rampValues(9, 0), nil)); !limbs.IsShapeError(err) {
		t.Errorf("expected shape error for long label, got %v", err)
	}
}

func TestDecodeKeepsNonFinite(t *testing.T) {
	dec, _ := NewDecoder(basicConfig(), nil)
	label := []float32{float32(math.NaN()), 1, 2, 3, 4, 5}
	sample, err := dec.Decode(encodeRecord(t, rampValues(16, 1), label, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(float64(sample.Label.Values[0])) {
		t.Errorf("NaN label value should pass through, got %g", sample.Label.Values[0])
	}
	if newBatch([]Sample{sample}).Finite() {
		t.Errorf("batch with NaN label should not be finite")
	}
}
