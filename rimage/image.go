package rimage

import (
	"image"
	"image/color"
)

// Image is a three channel RGB image. It is the ColorFrame produced by the false color mapping
// and the type used for overlays.
type Image struct {
	data          []Color
	width, height int
}

// NewImage returns a black image.
func NewImage(width, height int) *Image {
	return &Image{
		data:   make([]Color, width*height),
		width:  width,
		height: height,
	}
}

// NewImageFromStdImage copies any image.Image into an Image.
func NewImageFromStdImage(img image.Image) *Image {
	if rimg, ok := img.(*Image); ok {
		return rimg.Clone()
	}
	bounds := img.Bounds()
	ret := NewImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < ret.height; y++ {
		for x := 0; x < ret.width; x++ {
			ret.data[ret.kxy(x, y)] = NewColorFromColor(img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return ret
}

func (i *Image) kxy(x, y int) int {
	return (y * i.width) + x
}

// ColorModel implements image.Image.
func (i *Image) ColorModel() color.Model {
	return ColorModel
}

// Bounds implements image.Image.
func (i *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// At implements image.Image.
func (i *Image) At(x, y int) color.Color {
	return i.GetXY(x, y)
}

// In reports whether (x, y) is inside the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

// Width returns the width.
func (i *Image) Width() int {
	return i.width
}

// Height returns the height.
func (i *Image) Height() int {
	return i.height
}

// GetXY returns the color at (x, y), black outside the image.
func (i *Image) GetXY(x, y int) Color {
	if !i.In(x, y) {
		return Black
	}
	return i.data[i.kxy(x, y)]
}

// SetXY sets the color at (x, y). Writes outside the image are dropped.
func (i *Image) SetXY(x, y int, c Color) {
	if !i.In(x, y) {
		return
	}
	i.data[i.kxy(x, y)] = c
}

// Clone returns a deep copy.
func (i *Image) Clone() *Image {
	ret := NewImage(i.width, i.height)
	copy(ret.data, i.data)
	return ret
}

// GrayToImage expands a gray image into three identical channels.
func GrayToImage(g *GrayImage) *Image {
	ret := NewImage(g.Width(), g.Height())
	for k, v := range g.data {
		ret.data[k] = Color{v, v, v}
	}
	return ret
}
