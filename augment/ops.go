package augment

import (
	"math/rand"

	"github.com/janelia-flyem/limbs/limbs"
)

// FlipLeftRight mirrors the image across its vertical center line.
func FlipLeftRight(img limbs.Image) limbs.Image {
	out := limbs.NewImage(img.Height, img.Width, img.Channels)
	for r := 0; r < img.Height; r++ {
		for c := 0; c < img.Width; c++ {
			for ch := 0; ch < img.Channels; ch++ {
				out.Set(r, img.Width-1-c, ch, img.At(r, c, ch))
			}
		}
	}
	return out
}

// FlipUpDown mirrors the image across its horizontal center line.
func FlipUpDown(img limbs.Image) limbs.Image {
	out := limbs.NewImage(img.Height, img.Width, img.Channels)
	rowLen := img.Width * img.Channels
	for r := 0; r < img.Height; r++ {
		dst := (img.Height - 1 - r) * rowLen
		copy(out.Data[dst:dst+rowLen], img.Data[r*rowLen:(r+1)*rowLen])
	}
	return out
}

// AdjustContrast scales each channel's deviation from its mean by factor.
func AdjustContrast(img limbs.Image, factor float32) limbs.Image {
	out := img.Clone()
	n := img.Height * img.Width
	if n == 0 {
		return out
	}
	for ch := 0; ch < img.Channels; ch++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += float64(img.Data[i*img.Channels+ch])
		}
		mean := float32(sum / float64(n))
		for i := 0; i < n; i++ {
			j := i*img.Channels + ch
			out.Data[j] = (img.Data[j]-mean)*factor + mean
		}
	}
	return out
}

// AdjustBrightness adds delta to every value.
func AdjustBrightness(img limbs.Image, delta float32) limbs.Image {
	out := img.Clone()
	for i := range out.Data {
		out.Data[i] += delta
	}
	return out
}

// Rot90 rotates the image counter-clockwise by k quarter turns.  Odd k swaps the
// height and width.
func Rot90(img limbs.Image, k int) limbs.Image {
	k = ((k % 4) + 4) % 4
	out := img
	for i := 0; i < k; i++ {
		out = rot90Once(out)
	}
	if k == 0 {
		return img.Clone()
	}
	return out
}

func rot90Once(img limbs.Image) limbs.Image {
	out := limbs.NewImage(img.Width, img.Height, img.Channels)
	for r := 0; r < out.Height; r++ {
		for c := 0; c < out.Width; c++ {
			for ch := 0; ch < img.Channels; ch++ {
				out.Set(r, c, ch, img.At(c, img.Width-1-r, ch))
			}
		}
	}
	return out
}

// CropOrPad center-crops or zero-pads the image to height x width.  Each
// dimension is handled independently so one may be cropped while the other is
// padded.
func CropOrPad(img limbs.Image, height, width int) limbs.Image {
	out := limbs.NewImage(height, width, img.Channels)
	cropTop, padTop := centerOffsets(img.Height, height)
	cropLeft, padLeft := centerOffsets(img.Width, width)
	copyH := minInt(img.Height, height)
	copyW := minInt(img.Width, width)
	rowLen := copyW * img.Channels
	for r := 0; r < copyH; r++ {
		src := ((cropTop+r)*img.Width + cropLeft) * img.Channels
		dst := ((padTop+r)*width + padLeft) * img.Channels
		copy(out.Data[dst:dst+rowLen], img.Data[src:src+rowLen])
	}
	return out
}

// centerOffsets returns the crop offset into the input and the pad offset into the
// output needed to center an input of size in within size target.
func centerOffsets(in, target int) (crop, pad int) {
	if in > target {
		return (in - target) / 2, 0
	}
	return 0, (target - in) / 2
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RandomCropWindow picks a height x width window inside an inHeight x inWidth
// image.  The vertical offset is uniform over every valid position and the
// horizontal offset is centered.  A dimension larger than the image is clamped
// to the whole image, so the window never leaves the image bounds.
func RandomCropWindow(rng *rand.Rand, inHeight, inWidth, height, width int) limbs.Crop {
	height, width = minInt(height, inHeight), minInt(width, inWidth)
	hMin := rng.Intn(inHeight - height + 1)
	wMin := (inWidth - width) / 2
	return limbs.Crop{HMin: hMin, HMax: hMin + height, WMin: wMin, WMax: wMin + width}
}

// ApplyCrop slices every channel of the image to the crop window.
func ApplyCrop(img limbs.Image, crop limbs.Crop) (limbs.Image, error) {
	return img.Slice(crop.HMin, crop.WMin, crop.HMax-crop.HMin, crop.WMax-crop.WMin)
}
