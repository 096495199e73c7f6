package pipeline

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/janelia-flyem/limbs/augment"
	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/record"
)

// DefaultBackgroundMultiplier places background pixels just above max value.
const DefaultBackgroundMultiplier = 1.01

// DecodeConfig holds everything a Decoder needs to turn record bytes into a
// normalized sample.
type DecodeConfig struct {
	// TargetSize is the stored image shape, (H, W) or (H, W, C).
	TargetSize []int

	// ModelInputShape is the (H, W) image shape after augmentation.  It defaults to
	// the first two dims of TargetSize.
	ModelInputShape []int

	// ImageTargetSize and ImageInputSize are the image sizes the labels are
	// resized between when converting labels to pixel space.  ImageTargetSize
	// also supplies the x and y divisors for label normalization.
	ImageTargetSize []int
	ImageInputSize  []int

	LabelShape int
	NumDims    int // coordinates per label tuple, default 3

	// MaxValue is the largest valid intensity.  It is required.
	MaxValue *float32

	// MayaToPixel converts labels from maya space before resizing, using
	// MayaConversion and half of ImageInputSize.
	MayaToPixel    bool
	MayaConversion []float32

	NormalizeLabels      bool
	BackgroundMultiplier float32 // default 1.01
	ClipZ                bool
	Occlusions           bool

	// Augmentations lists the enabled augmentations.  Image augmentations only run
	// when Train is set; ConvertLabelsToPixelSpace is honored either way.
	Augmentations augment.Set
	Train         bool
}

// Sample is one decoded record.  Image has a single channel.
type Sample struct {
	Image     limbs.Image
	Label     limbs.Labels
	Occlusion []float32
}

// Decoder decodes, augments and normalizes records.  A Decoder is not safe for
// concurrent use since it owns a random source; use one per worker.
type Decoder struct {
	cfg        DecodeConfig
	schema     record.Schema
	augs       *augment.Pipeline
	toPixel    limbs.Transform // nil unless labels are converted to pixel space
	maxValue   float32
	background float32
}

// NewDecoder validates the configuration and returns a decoder.  All
// configuration problems are reported here, before any record is decoded.  A nil
// rng is seeded from the clock.
func NewDecoder(cfg DecodeConfig, rng *rand.Rand) (*Decoder, error) {
	if cfg.MaxValue == nil {
		return nil, limbs.NewConfigError("max_value", "max value must be provided")
	}
	if *cfg.MaxValue <= 0 {
		return nil, limbs.NewConfigError("max_value", "must be positive, got %g", *cfg.MaxValue)
	}
	if len(cfg.TargetSize) != 2 && len(cfg.TargetSize) != 3 {
		return nil, limbs.NewConfigError("target_size", "need (H, W) or (H, W, C), got %v", cfg.TargetSize)
	}
	for _, d := range cfg.TargetSize {
		if d <= 0 {
			return nil, limbs.NewConfigError("target_size", "dimensions must be positive, got %v", cfg.TargetSize)
		}
	}
	if cfg.NumDims == 0 {
		cfg.NumDims = limbs.DefaultNumDims
	}
	if cfg.LabelShape <= 0 || cfg.LabelShape%cfg.NumDims != 0 {
		return nil, limbs.NewConfigError("label_shape", "%d is not a positive multiple of num_dims %d",
			cfg.LabelShape, cfg.NumDims)
	}
	if len(cfg.ModelInputShape) == 0 {
		cfg.ModelInputShape = cfg.TargetSize[:2]
	}
	if cfg.BackgroundMultiplier == 0 {
		cfg.BackgroundMultiplier = DefaultBackgroundMultiplier
	}
	if cfg.ClipZ && cfg.NumDims != 3 {
		return nil, limbs.NewConfigError("clip_z", "needs (x, y, z) label tuples, have %d dims", cfg.NumDims)
	}
	if cfg.NormalizeLabels && len(cfg.ImageTargetSize) < 2 {
		return nil, limbs.NewConfigError("image_target_size", "needed to normalize labels, got %v", cfg.ImageTargetSize)
	}
	for setting, size := range map[string][]int{
		"image_target_size": cfg.ImageTargetSize,
		"image_input_size":  cfg.ImageInputSize,
	} {
		for _, d := range size {
			if d <= 0 {
				return nil, limbs.NewConfigError(setting, "dimensions must be positive, got %v", size)
			}
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	d := &Decoder{
		cfg: cfg,
		schema: record.Schema{
			LabelShape: cfg.LabelShape,
			ImageSize:  limbs.Product(cfg.TargetSize),
			Occlusions: cfg.Occlusions,
		},
		maxValue:   *cfg.MaxValue,
		background: cfg.BackgroundMultiplier * *cfg.MaxValue,
	}

	imageAugs := cfg.Augmentations
	if !cfg.Train {
		imageAugs = 0
	}
	var err error
	if d.augs, err = augment.New(imageAugs, cfg.ModelInputShape, rng); err != nil {
		return nil, err
	}

	if cfg.Augmentations.Has(augment.ConvertLabelsToPixelSpace) {
		if d.toPixel, err = pixelTransform(cfg); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// pixelTransform builds the label chain into the resized image frame and checks
// it once on an empty label set so ratio mismatches surface at construction.
func pixelTransform(cfg DecodeConfig) (limbs.Transform, error) {
	if len(cfg.ImageTargetSize) < 2 || len(cfg.ImageInputSize) < 2 {
		return nil, limbs.NewConfigError("image_input_size",
			"image_target_size and image_input_size are needed to convert labels to pixel space")
	}
	var transforms []limbs.Transform
	if cfg.MayaToPixel {
		if len(cfg.MayaConversion) != cfg.NumDims {
			return nil, limbs.NewConfigError("maya_conversion", "need %d values, got %v", cfg.NumDims, cfg.MayaConversion)
		}
		half := [2]float32{float32(cfg.ImageInputSize[0]) / 2, float32(cfg.ImageInputSize[1]) / 2}
		transforms = append(transforms, limbs.MayaToPixel(cfg.MayaConversion, half))
	}
	transforms = append(transforms, limbs.Resize(cfg.ImageTargetSize, cfg.ImageInputSize))
	chain, err := limbs.Chain(transforms...)
	if err != nil {
		return nil, err
	}
	if _, err := chain.Apply(limbs.Labels{NumDims: cfg.NumDims}); err != nil {
		return nil, err
	}
	return chain, nil
}

// Config returns the decoder configuration with defaults filled in.
func (d *Decoder) Config() DecodeConfig {
	return d.cfg
}

// Schema returns the record schema the decoder expects.
func (d *Decoder) Schema() record.Schema {
	return d.schema
}

// Decode turns one serialized record into a sample.
func (d *Decoder) Decode(b []byte) (Sample, error) {
	decoded, err := d.schema.Decode(b)
	if err != nil {
		return Sample{}, err
	}
	img, err := limbs.ImageFromData(decoded.Image, d.cfg.TargetSize)
	if err != nil {
		return Sample{}, err
	}
	label, err := limbs.NewLabels(decoded.Label, d.cfg.NumDims)
	if err != nil {
		return Sample{}, err
	}

	res, err := d.augs.Apply(img)
	if err != nil {
		return Sample{}, err
	}

	if d.toPixel != nil {
		if label, err = d.toPixel.Apply(label); err != nil {
			return Sample{}, err
		}
		if res.Crop != nil {
			// Padding around a clamped crop moves labels the other way.
			shift := *res.Crop
			shift.HMin -= res.PadTop
			shift.WMin -= res.PadLeft
			if label, err = limbs.ApplyCropCoordinates(label, shift); err != nil {
				return Sample{}, err
			}
		}
	}

	img, err = res.Image.Channel(0)
	if err != nil {
		return Sample{}, err
	}
	img = img.SubstituteBackground(d.background)

	if d.cfg.NormalizeLabels {
		if label, err = limbs.NormalizeLabels(label, d.cfg.ImageTargetSize, d.maxValue); err != nil {
			return Sample{}, err
		}
		img = img.Scale(d.background)
	}

	if d.cfg.ClipZ {
		if label, err = limbs.DropAxis(label, 2); err != nil {
			return Sample{}, err
		}
	}

	return Sample{Image: img, Label: label, Occlusion: decoded.Occlusion}, nil
}

func (s Sample) String() string {
	return fmt.Sprintf("sample %s, %d label values", s.Image, s.Label.Len())
}
