package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSizeMismatch is returned when two images that must share dimensions do not.
var ErrSizeMismatch = errors.New("image sizes do not match")

// GrayImage is a single channel 8-bit image. All accessors are bounds checked: reads outside the
// image return 0 and writes outside the image are dropped.
type GrayImage struct {
	data          []uint8
	width, height int
}

// NewGrayImage returns a black image of the given size.
func NewGrayImage(width, height int) *GrayImage {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &GrayImage{
		data:   make([]uint8, width*height),
		width:  width,
		height: height,
	}
}

// NewGrayImageFromData wraps a copy of row-major pixel data.
func NewGrayImageFromData(width, height int, data []uint8) (*GrayImage, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid gray image size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("expected %d pixels for a %dx%d image but got %d", width*height, width, height, len(data))
	}
	ret := NewGrayImage(width, height)
	copy(ret.data, data)
	return ret, nil
}

// ConvertToGray converts any image to luminance using the BT.601 weights.
func ConvertToGray(img image.Image) *GrayImage {
	switch v := img.(type) {
	case *GrayImage:
		return v.Clone()
	case *image.Gray:
		bounds := v.Bounds()
		ret := NewGrayImage(bounds.Dx(), bounds.Dy())
		for y := 0; y < ret.height; y++ {
			start := v.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(ret.Row(y), v.Pix[start:start+ret.width])
		}
		return ret
	}
	bounds := img.Bounds()
	ret := NewGrayImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < ret.height; y++ {
		for x := 0; x < ret.width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := (299*float64(r>>8) + 587*float64(g>>8) + 114*float64(b>>8)) / 1000
			ret.data[ret.kxy(x, y)] = uint8(math.Round(lum))
		}
	}
	return ret
}

func (g *GrayImage) kxy(x, y int) int {
	return (y * g.width) + x
}

// Width returns the width.
func (g *GrayImage) Width() int {
	return g.width
}

// Height returns the height.
func (g *GrayImage) Height() int {
	return g.height
}

// Size returns the dimensions as a point.
func (g *GrayImage) Size() image.Point {
	return image.Point{g.width, g.height}
}

// Empty reports whether the image has no pixels.
func (g *GrayImage) Empty() bool {
	return g == nil || g.width == 0 || g.height == 0
}

// ColorModel implements image.Image.
func (g *GrayImage) ColorModel() color.Model {
	return color.GrayModel
}

// Bounds implements image.Image.
func (g *GrayImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.width, g.height)
}

// At implements image.Image.
func (g *GrayImage) At(x, y int) color.Color {
	return color.Gray{g.Get(x, y)}
}

// In reports whether (x, y) is inside the image.
func (g *GrayImage) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// Get returns the value at (x, y), or 0 outside the image.
func (g *GrayImage) Get(x, y int) uint8 {
	if !g.In(x, y) {
		return 0
	}
	return g.data[g.kxy(x, y)]
}

// GetClamped returns the value at (x, y) with the border replicated outside the image.
func (g *GrayImage) GetClamped(x, y int) uint8 {
	if x < 0 {
		x = 0
	} else if x >= g.width {
		x = g.width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= g.height {
		y = g.height - 1
	}
	return g.data[g.kxy(x, y)]
}

// Set writes v at (x, y); writes outside the image are dropped.
func (g *GrayImage) Set(x, y int, v uint8) {
	if !g.In(x, y) {
		return
	}
	g.data[g.kxy(x, y)] = v
}

// Row returns the pixels of row y. The slice aliases the image.
func (g *GrayImage) Row(y int) []uint8 {
	if y < 0 || y >= g.height {
		return nil
	}
	return g.data[y*g.width : (y+1)*g.width]
}

// Bilinear samples the image at a fractional position with a constant 0 border. Pixel centers
// lie on integer coordinates.
func (g *GrayImage) Bilinear(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	ax := x - float64(x0)
	ay := y - float64(y0)
	v00 := float64(g.Get(x0, y0))
	v10 := float64(g.Get(x0+1, y0))
	v01 := float64(g.Get(x0, y0+1))
	v11 := float64(g.Get(x0+1, y0+1))
	return (1-ay)*((1-ax)*v00+ax*v10) + ay*((1-ax)*v01+ax*v11)
}

// Clone returns a deep copy.
func (g *GrayImage) Clone() *GrayImage {
	ret := NewGrayImage(g.width, g.height)
	copy(ret.data, g.data)
	return ret
}

// SameSize returns ErrSizeMismatch when the images differ in size.
func (g *GrayImage) SameSize(other *GrayImage) error {
	if g.width != other.width || g.height != other.height {
		return errors.Wrapf(ErrSizeMismatch, "%dx%d vs %dx%d", g.width, g.height, other.width, other.height)
	}
	return nil
}

// ToDense returns the image as a float matrix indexed (row=y, col=x).
func (g *GrayImage) ToDense() *mat.Dense {
	data := make([]float64, len(g.data))
	for k, v := range g.data {
		data[k] = float64(v)
	}
	return mat.NewDense(g.height, g.width, data)
}

// Normalize stretches the intensity range to [0, 255]. A flat image is returned unchanged.
func (g *GrayImage) Normalize() *GrayImage {
	lo, hi := uint8(255), uint8(0)
	for _, v := range g.data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	ret := g.Clone()
	if hi <= lo {
		return ret
	}
	span := int(hi - lo)
	for k, v := range g.data {
		ret.data[k] = uint8((int(v-lo)*255 + span/2) / span)
	}
	return ret
}
