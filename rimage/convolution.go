package rimage

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/utils"
)

// Kernel is a 2D convolution kernel stored row-major.
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// Size returns the kernel dimensions.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel weight at (x, y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}, 3, 3}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}, 3, 3}
}

// GetGaussian returns a normalized square gaussian kernel of the given odd size.
func GetGaussian(size int, sigma float64) (Kernel, error) {
	if size < 1 || size%2 == 0 {
		return Kernel{}, errors.Errorf("gaussian kernel size must be odd and positive, got %d", size)
	}
	if sigma <= 0 {
		// same default as the usual 0.3*((size-1)*0.5-1)+0.8
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	half := size / 2
	content := make([][]float64, size)
	sum := 0.
	for y := 0; y < size; y++ {
		content[y] = make([]float64, size)
		for x := 0; x < size; x++ {
			dx, dy := float64(x-half), float64(y-half)
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			content[y][x] = v
			sum += v
		}
	}
	for y := range content {
		for x := range content[y] {
			content[y][x] /= sum
		}
	}
	return Kernel{content, size, size}, nil
}

// ConvolveGrayFloat64 convolves a float image with the kernel, anchored at the kernel center and
// replicating the border. There is no clamping.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if filter.Width%2 == 0 || filter.Height%2 == 0 {
		return nil, errors.Errorf("kernel must have odd dimensions, got %dx%d", filter.Width, filter.Height)
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	ax, ay := filter.Width/2, filter.Height/2
	err := utils.ParallelForEachRow(context.Background(), h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for ky := 0; ky < filter.Height; ky++ {
				sy := utils.Clamp(y+ky-ay, 0, h-1)
				for kx := 0; kx < filter.Width; kx++ {
					sx := utils.Clamp(x+kx-ax, 0, w-1)
					sum += m.At(sy, sx) * filter.At(kx, ky)
				}
			}
			result.Set(y, x, sum)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SobelX computes the horizontal 3x3 Sobel derivative of a gray image into an int16 buffer,
// replicating the border.
func SobelX(img *GrayImage) []int16 {
	w, h := img.Width(), img.Height()
	out := make([]int16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(img.GetClamped(x+1, y-1)) - int(img.GetClamped(x-1, y-1)) +
				2*(int(img.GetClamped(x+1, y))-int(img.GetClamped(x-1, y))) +
				int(img.GetClamped(x+1, y+1)) - int(img.GetClamped(x-1, y+1))
			out[y*w+x] = int16(v)
		}
	}
	return out
}
