package limbs

import (
	"fmt"
	"math"
)

// Image is a dense float32 image stored row-major in HWC order.
type Image struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// NewImage returns a zeroed image of the given shape.
func NewImage(height, width, channels int) Image {
	return Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

// ImageFromData reshapes a flat buffer into an image.  The shape must be (H, W) or
// (H, W, C) and its product must equal the buffer length.  The buffer is not copied.
func ImageFromData(data []float32, shape []int) (Image, error) {
	var img Image
	switch len(shape) {
	case 2:
		img = Image{Height: shape[0], Width: shape[1], Channels: 1}
	case 3:
		img = Image{Height: shape[0], Width: shape[1], Channels: shape[2]}
	default:
		return Image{}, NewShapeError("reshape image", "shape must have 2 or 3 dimensions, got %v", shape)
	}
	if img.Height <= 0 || img.Width <= 0 || img.Channels <= 0 {
		return Image{}, NewShapeError("reshape image", "non-positive dimension in shape %v", shape)
	}
	if n := img.Height * img.Width * img.Channels; n != len(data) {
		return Image{}, NewShapeError("reshape image", "cannot reshape %d values into %v (%d values)", len(data), shape, n)
	}
	img.Data = data
	return img, nil
}

// Shape returns the image shape as (H, W, C).
func (img Image) Shape() []int {
	return []int{img.Height, img.Width, img.Channels}
}

// Len returns the number of values in the image.
func (img Image) Len() int {
	return img.Height * img.Width * img.Channels
}

func (img Image) String() string {
	return fmt.Sprintf("image %dx%dx%d", img.Height, img.Width, img.Channels)
}

func (img Image) offset(row, col, ch int) int {
	return (row*img.Width+col)*img.Channels + ch
}

// At returns the value at the given row, column and channel.
func (img Image) At(row, col, ch int) float32 {
	return img.Data[img.offset(row, col, ch)]
}

// Set stores a value at the given row, column and channel.
func (img Image) Set(row, col, ch int, v float32) {
	img.Data[img.offset(row, col, ch)] = v
}

// Clone returns a deep copy of the image.
func (img Image) Clone() Image {
	data := make([]float32, len(img.Data))
	copy(data, img.Data)
	img.Data = data
	return img
}

// Channel returns a single channel image holding channel ch.
func (img Image) Channel(ch int) (Image, error) {
	if ch < 0 || ch >= img.Channels {
		return Image{}, NewShapeError("select channel", "channel %d out of range for %s", ch, img)
	}
	out := NewImage(img.Height, img.Width, 1)
	for i := 0; i < img.Height*img.Width; i++ {
		out.Data[i] = img.Data[i*img.Channels+ch]
	}
	return out, nil
}

// Slice returns the height x width window starting at (hMin, wMin), across all channels.
func (img Image) Slice(hMin, wMin, height, width int) (Image, error) {
	if hMin < 0 || wMin < 0 || height < 0 || width < 0 || hMin+height > img.Height || wMin+width > img.Width {
		return Image{}, NewShapeError("slice image", "window [%d:%d, %d:%d] out of bounds for %s",
			hMin, hMin+height, wMin, wMin+width, img)
	}
	out := NewImage(height, width, img.Channels)
	rowLen := width * img.Channels
	for r := 0; r < height; r++ {
		src := img.offset(hMin+r, wMin, 0)
		copy(out.Data[r*rowLen:(r+1)*rowLen], img.Data[src:src+rowLen])
	}
	return out, nil
}

// SubstituteBackground returns a copy of the image where every value exactly equal
// to zero has the constant added.  Non-zero values, including NaN, are unchanged.
func (img Image) SubstituteBackground(constant float32) Image {
	out := img.Clone()
	for i, v := range out.Data {
		if v == 0 {
			out.Data[i] = v + constant
		}
	}
	return out
}

// Scale returns a copy of the image with every value divided by divisor.
func (img Image) Scale(divisor float32) Image {
	out := img.Clone()
	for i := range out.Data {
		out.Data[i] /= divisor
	}
	return out
}

// Max returns the largest value in the image, or -Inf for an empty image.
func (img Image) Max() float32 {
	m := float32(math.Inf(-1))
	for _, v := range img.Data {
		if v > m {
			m = v
		}
	}
	return m
}

// Finite returns false if any value is NaN or infinite.
func (img Image) Finite() bool {
	return Finite(img.Data)
}

// Finite returns false if any value is NaN or infinite.
func Finite(data []float32) bool {
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
