package augment

import (
	"fmt"
	"math/rand"

	"github.com/janelia-flyem/limbs/limbs"
)

const (
	ContrastLower  = 0.5
	ContrastUpper  = 1.5
	BrightnessDiff = 32.0 / 255.0
)

// Result is an augmented image plus a record of which random operations fired.
type Result struct {
	Image limbs.Image

	// Crop is non-nil only when a random crop was taken.
	Crop *limbs.Crop

	// PadTop and PadLeft are the zero rows and columns added above and left of a
	// random crop that was smaller than the output size.
	PadTop  int
	PadLeft int

	FlippedLR  bool
	FlippedUD  bool
	Rotations  int     // counter-clockwise quarter turns
	Contrast   float32 // 1 when contrast was not adjusted
	Brightness float32 // 0 when brightness was not adjusted
}

// Pipeline applies the enabled augmentations in a fixed order:  left-right flip,
// up-down flip, contrast, brightness, rotation, and then either a random crop or a
// deterministic center crop-or-pad to the output size.
//
// A Pipeline holds its own random source and must not be shared across goroutines.
type Pipeline struct {
	enabled Set
	height  int
	width   int
	rng     *rand.Rand
}

// New returns a pipeline producing images of outputSize (height, width).
func New(enabled Set, outputSize []int, rng *rand.Rand) (*Pipeline, error) {
	if len(outputSize) < 2 || outputSize[0] <= 0 || outputSize[1] <= 0 {
		return nil, limbs.NewConfigError("model_input_shape", "need positive height and width, got %v", outputSize)
	}
	if rng == nil {
		return nil, fmt.Errorf("augmentation pipeline needs a random source")
	}
	return &Pipeline{enabled: enabled, height: outputSize[0], width: outputSize[1], rng: rng}, nil
}

// Enabled returns the enabled augmentations.
func (p *Pipeline) Enabled() Set {
	return p.enabled
}

func (p *Pipeline) coin() bool {
	return p.rng.Float64() < 0.5
}

func (p *Pipeline) uniform(lower, upper float32) float32 {
	return lower + p.rng.Float32()*(upper-lower)
}

// Apply augments one image.  The input image is not modified.
func (p *Pipeline) Apply(img limbs.Image) (Result, error) {
	res := Result{Image: img, Contrast: 1}
	if p.enabled.Has(LeftRight) && p.coin() {
		res.Image = FlipLeftRight(res.Image)
		res.FlippedLR = true
	}
	if p.enabled.Has(UpDown) && p.coin() {
		res.Image = FlipUpDown(res.Image)
		res.FlippedUD = true
	}
	if p.enabled.Has(RandomContrast) {
		res.Contrast = p.uniform(ContrastLower, ContrastUpper)
		res.Image = AdjustContrast(res.Image, res.Contrast)
	}
	if p.enabled.Has(RandomBrightness) {
		res.Brightness = p.uniform(-BrightnessDiff, BrightnessDiff)
		res.Image = AdjustBrightness(res.Image, res.Brightness)
	}
	if p.enabled.Has(Rotate) {
		res.Rotations = p.rng.Intn(4)
		if res.Rotations != 0 {
			res.Image = Rot90(res.Image, res.Rotations)
		}
	}

	if p.enabled.Has(RandomCrop) {
		crop := RandomCropWindow(p.rng, res.Image.Height, res.Image.Width, p.height, p.width)
		cropped, err := ApplyCrop(res.Image, crop)
		if err != nil {
			return Result{}, err
		}
		if cropped.Height != p.height || cropped.Width != p.width {
			_, res.PadTop = centerOffsets(cropped.Height, p.height)
			_, res.PadLeft = centerOffsets(cropped.Width, p.width)
			cropped = CropOrPad(cropped, p.height, p.width)
		}
		res.Image = cropped
		res.Crop = &crop
	} else {
		res.Image = CropOrPad(res.Image, p.height, p.width)
	}
	return res, nil
}
