package limbs

import (
	"fmt"
	"strings"
)

// Crop describes the window taken out of an image by a random crop.  HMax and
// WMax are exclusive, so the crop height is HMax - HMin.
type Crop struct {
	HMin int
	HMax int
	WMin int
	WMax int
}

func (c Crop) String() string {
	return fmt.Sprintf("crop [%d:%d, %d:%d]", c.HMin, c.HMax, c.WMin, c.WMax)
}

// ConvertMayaToPixel maps labels from maya space into pixel space.  Each (x, y, z)
// tuple is scaled by conversion, translated by halfExtent * [1, -1, 0], and then
// has the sign of y flipped since maya's vertical axis points the other way.
func ConvertMayaToPixel(l Labels, conversion []float32, halfExtent [2]float32) (Labels, error) {
	if l.NumDims != 3 {
		return Labels{}, NewShapeError("maya to pixel", "requires 3 dims per tuple, got %d", l.NumDims)
	}
	if len(conversion) != l.NumDims {
		return Labels{}, NewShapeError("maya to pixel", "conversion vector has %d values, need %d", len(conversion), l.NumDims)
	}
	out := l.tileMul(conversion)
	out = out.tileAdd([]float32{halfExtent[0], -halfExtent[1], 0})
	return out.tileMul([]float32{1, -1, 1}), nil
}

// ResizeLabelCoordinates scales x and y by target/input size.  The height and
// width ratios must be identical.  Any further coordinates are left unscaled.
func ResizeLabelCoordinates(l Labels, targetSize, inputSize []int) (Labels, error) {
	if len(targetSize) < 2 || len(inputSize) < 2 {
		return Labels{}, NewShapeError("resize labels", "sizes need at least 2 dims, got %v and %v", targetSize, inputSize)
	}
	if inputSize[0] <= 0 || inputSize[1] <= 0 {
		return Labels{}, NewShapeError("resize labels", "input size must be positive, got %v", inputSize)
	}
	if l.NumDims < 2 {
		return Labels{}, NewShapeError("resize labels", "requires at least 2 dims per tuple, got %d", l.NumDims)
	}
	hRatio := float32(targetSize[0]) / float32(inputSize[0])
	wRatio := float32(targetSize[1]) / float32(inputSize[1])
	if hRatio != wRatio {
		return Labels{}, NewShapeError("resize labels", "ratios must match, got %g ≠ %g", hRatio, wRatio)
	}
	pattern := make([]float32, l.NumDims)
	for i := range pattern {
		pattern[i] = 1
	}
	pattern[0], pattern[1] = hRatio, wRatio
	return l.tileMul(pattern), nil
}

// FlipLRCoordinates reflects the x coordinate of every tuple: x' = xExtent - x.
func FlipLRCoordinates(l Labels, xExtent float32) Labels {
	out := l.Clone()
	for i := 0; i < out.NumTuples(); i++ {
		t := out.Tuple(i)
		t[0] = xExtent - t[0]
	}
	return out
}

// ApplyCropCoordinates moves labels into the local frame of a cropped image by
// subtracting the crop's starting offsets from x and y.
func ApplyCropCoordinates(l Labels, crop Crop) (Labels, error) {
	if l.NumDims < 2 {
		return Labels{}, NewShapeError("crop labels", "requires at least 2 dims per tuple, got %d", l.NumDims)
	}
	pattern := make([]float32, l.NumDims)
	pattern[0] = -float32(crop.HMin)
	pattern[1] = -float32(crop.WMin)
	return l.tileAdd(pattern), nil
}

// ClipToValue returns a copy of data where every value outside [low, high] is set
// to zero.  NaN values are neither below nor above the range and are kept, so
// a diverging model stays visible downstream.
func ClipToValue(data []float32, low, high float32) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		if v < low || v > high {
			continue
		}
		out[i] = v
	}
	return out
}

// normalizers returns the per-axis divisors used for label normalization.
func normalizers(numDims int, imageTargetSize []int, maxValue float32) ([]float32, error) {
	if len(imageTargetSize) < 2 {
		return nil, NewShapeError("normalize labels", "image target size needs at least 2 dims, got %v", imageTargetSize)
	}
	if imageTargetSize[0] == 0 || imageTargetSize[1] == 0 || maxValue == 0 {
		return nil, NewShapeError("normalize labels", "zero divisor in %v with max value %g", imageTargetSize, maxValue)
	}
	divisors := make([]float32, numDims)
	for i := range divisors {
		switch i {
		case 0:
			divisors[i] = float32(imageTargetSize[0])
		case 1:
			divisors[i] = float32(imageTargetSize[1])
		case 2:
			divisors[i] = maxValue
		default:
			divisors[i] = 1
		}
	}
	return divisors, nil
}

// NormalizeLabels divides x by imageTargetSize[0], y by imageTargetSize[1] and z
// by maxValue, tuple by tuple.
func NormalizeLabels(l Labels, imageTargetSize []int, maxValue float32) (Labels, error) {
	divisors, err := normalizers(l.NumDims, imageTargetSize, maxValue)
	if err != nil {
		return Labels{}, err
	}
	out := l.Clone()
	tiled := Tile(divisors, l.NumTuples())
	for i := range out.Values {
		out.Values[i] /= tiled[i]
	}
	return out, nil
}

// DenormalizeLabels undoes NormalizeLabels.
func DenormalizeLabels(l Labels, imageTargetSize []int, maxValue float32) (Labels, error) {
	divisors, err := normalizers(l.NumDims, imageTargetSize, maxValue)
	if err != nil {
		return Labels{}, err
	}
	return l.tileMul(divisors), nil
}

// Transform is a pure label transform that declares which axes it touches.
type Transform interface {
	Name() string
	Axes() Axis
	Apply(Labels) (Labels, error)
}

type labelTransform struct {
	name string
	axes Axis
	fn   func(Labels) (Labels, error)
}

func (t labelTransform) Name() string                   { return t.name }
func (t labelTransform) Axes() Axis                     { return t.axes }
func (t labelTransform) Apply(l Labels) (Labels, error) { return t.fn(l) }
func (t labelTransform) String() string                 { return t.name + "(" + t.axes.String() + ")" }

// MayaToPixel returns ConvertMayaToPixel as a Transform.
func MayaToPixel(conversion []float32, halfExtent [2]float32) Transform {
	return labelTransform{"maya_to_pixel", AxesXYZ, func(l Labels) (Labels, error) {
		return ConvertMayaToPixel(l, conversion, halfExtent)
	}}
}

// Resize returns ResizeLabelCoordinates as a Transform.
func Resize(targetSize, inputSize []int) Transform {
	return labelTransform{"resize", AxesXY, func(l Labels) (Labels, error) {
		return ResizeLabelCoordinates(l, targetSize, inputSize)
	}}
}

// FlipLR returns FlipLRCoordinates as a Transform.
func FlipLR(xExtent float32) Transform {
	return labelTransform{"flip_lr", AxisX, func(l Labels) (Labels, error) {
		return FlipLRCoordinates(l, xExtent), nil
	}}
}

// CropShift returns ApplyCropCoordinates as a Transform.
func CropShift(crop Crop) Transform {
	return labelTransform{"crop", AxesXY, func(l Labels) (Labels, error) {
		return ApplyCropCoordinates(l, crop)
	}}
}

// Normalize returns NormalizeLabels as a Transform.
func Normalize(imageTargetSize []int, maxValue float32) Transform {
	return labelTransform{"normalize", AxesXYZ, func(l Labels) (Labels, error) {
		return NormalizeLabels(l, imageTargetSize, maxValue)
	}}
}

// Chain composes transforms applied left to right.  Each transform kind may only
// appear once in a chain, which guards against applying e.g. a resize twice.
func Chain(transforms ...Transform) (Transform, error) {
	seen := make(map[string]struct{}, len(transforms))
	var axes Axis
	names := make([]string, 0, len(transforms))
	for _, t := range transforms {
		if _, found := seen[t.Name()]; found {
			return nil, fmt.Errorf("transform %q applied more than once in chain", t.Name())
		}
		seen[t.Name()] = struct{}{}
		axes |= t.Axes()
		names = append(names, t.Name())
	}
	fn := func(l Labels) (Labels, error) {
		var err error
		for _, t := range transforms {
			if l, err = t.Apply(l); err != nil {
				return Labels{}, fmt.Errorf("%s: %w", t.Name(), err)
			}
		}
		return l, nil
	}
	return labelTransform{strings.Join(names, "+"), axes, fn}, nil
}
