package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode reports bytes that cannot be interpreted as an image.
var ErrDecode = errors.New("invalid image")

// Tensor is a single grayscale image laid out row-major, values in [0, 1].
// The classifier sees it with shape [1, Height, Width, 1].
type Tensor struct {
	Height int
	Width  int
	Data   []float32
}

// Shape returns the NHWC shape of the tensor.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), 1}
}

// At returns the intensity at (x, y).
func (t Tensor) At(x, y int) float32 {
	return t.Data[y*t.Width+x]
}

// NewTensor wraps already-normalized pixel data. It checks the length and the
// value range so callers cannot hand the classifier a tensor Normalize would
// never produce.
func NewTensor(width, height int, data []float32) (Tensor, error) {
	if width <= 0 || height <= 0 {
		return Tensor{}, fmt.Errorf("invalid tensor size %dx%d", width, height)
	}
	if len(data) != width*height {
		return Tensor{}, fmt.Errorf("expected %d values, got %d", width*height, len(data))
	}
	for i, v := range data {
		if !(v >= 0 && v <= 1) {
			return Tensor{}, fmt.Errorf("value %d out of range [0,1]: %v", i, v)
		}
	}
	return Tensor{Height: height, Width: width, Data: data}, nil
}

// Normalize decodes raw image bytes and converts them to the tensor the
// classifier expects: grayscale, resized to width x height with a bilinear
// kernel, intensities divided by 255.
func Normalize(raw []byte, width, height int) (Tensor, error) {
	if width <= 0 || height <= 0 {
		return Tensor{}, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return Tensor{}, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}

	return FromImage(img, width, height), nil
}

// FromImage runs the grayscale, resize and rescale steps of Normalize on an
// already decoded image.
func FromImage(img image.Image, width, height int) Tensor {
	gray := toGray(img)
	resized := resize.Resize(uint(width), uint(height), gray, resize.Bilinear)

	data := make([]float32, width*height)
	if g, ok := resized.(*image.Gray); ok {
		for y := 0; y < height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+width]
			for x, v := range row {
				data[y*width+x] = float32(v) / 255.0
			}
		}
	} else {
		b := resized.Bounds()
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := color.GrayModel.Convert(resized.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
				data[y*width+x] = float32(v) / 255.0
			}
		}
	}

	return Tensor{Height: height, Width: width, Data: data}
}

// toGray converts img to 8-bit luma, rebased to the origin.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return gray
}
