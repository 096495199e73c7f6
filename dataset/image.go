package dataset

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/janelia-flyem/limbs/limbs"
)

// LoadImage decodes an image file into float32 values.  Grayscale images give one
// channel at their native bit depth; anything else gives three 8-bit RGB channels.
// A non-empty resize of (H, W) scales the image with bilinear interpolation first.
func LoadImage(path string, resize []int) (limbs.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return limbs.Image{}, err
	}
	defer f.Close()
	src, format, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return limbs.Image{}, fmt.Errorf("cannot decode image %q: %w", path, err)
	}
	if len(resize) >= 2 {
		src = resizeImage(src, resize[0], resize[1])
	}
	img := toFloat(src)
	limbs.Debugf("Loaded %s image %q as %s\n", format, path, img)
	return img, nil
}

// resizeImage keeps grayscale images at their bit depth.
func resizeImage(src image.Image, height, width int) image.Image {
	rect := image.Rect(0, 0, width, height)
	var dst draw.Image
	switch src.ColorModel() {
	case color.GrayModel:
		dst = image.NewGray(rect)
	case color.Gray16Model:
		dst = image.NewGray16(rect)
	default:
		dst = image.NewRGBA(rect)
	}
	draw.BiLinear.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

func toFloat(m image.Image) limbs.Image {
	b := m.Bounds()
	switch src := m.(type) {
	case *image.Gray:
		out := limbs.NewImage(b.Dy(), b.Dx(), 1)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.Set(y-b.Min.Y, x-b.Min.X, 0, float32(src.GrayAt(x, y).Y))
			}
		}
		return out
	case *image.Gray16:
		out := limbs.NewImage(b.Dy(), b.Dx(), 1)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.Set(y-b.Min.Y, x-b.Min.X, 0, float32(src.Gray16At(x, y).Y))
			}
		}
		return out
	}
	out := limbs.NewImage(b.Dy(), b.Dx(), 3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := m.At(x, y).RGBA()
			row, col := y-b.Min.Y, x-b.Min.X
			out.Set(row, col, 0, float32(r>>8))
			out.Set(row, col, 1, float32(g>>8))
			out.Set(row, col, 2, float32(bl>>8))
		}
	}
	return out
}

// ReadFloats parses a whitespace separated text file of numbers, e.g., joint
// coordinates or occlusion flags stored next to an image.
func ReadFloats(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var values []float32
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		word := strings.Trim(scanner.Text(), ",[]")
		if word == "" {
			continue
		}
		v, err := strconv.ParseFloat(word, 32)
		if err != nil {
			return nil, fmt.Errorf("bad value %q in %q: %w", word, path, err)
		}
		values = append(values, float32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
