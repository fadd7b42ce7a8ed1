package rimage

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is an opaque 8-bit RGB triple.
type Color struct {
	R, G, B uint8
}

// Some basic colors used by the overlays.
var (
	Red    = NewColor(255, 0, 0)
	Green  = NewColor(0, 255, 0)
	Blue   = NewColor(0, 0, 255)
	Cyan   = NewColor(0, 255, 255)
	Yellow = NewColor(255, 255, 0)
	White  = NewColor(255, 255, 255)
	Black  = NewColor(0, 0, 0)
)

// NewColor returns a Color from its components.
func NewColor(r, g, b uint8) Color {
	return Color{r, g, b}
}

// NewColorFromColor converts any color.Color, dropping alpha.
func NewColorFromColor(c color.Color) Color {
	switch v := c.(type) {
	case Color:
		return v
	case color.Gray:
		return Color{v.Y, v.Y, v.Y}
	default:
		r, g, b, _ := c.RGBA()
		return Color{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
	}
}

func (c Color) String() string {
	h, s, v := c.Hsv()
	return fmt.Sprintf("%s (%3d,%4.2f,%4.2f)", c.Hex(), int(h), s, v)
}

// Hex returns the #rrggbb form of the color.
func (c Color) Hex() string {
	return fmt.Sprintf("#%.2x%.2x%.2x", c.R, c.G, c.B)
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	a = 0xffff
	return
}

func (c Color) toColorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// Hsv returns hue in [0, 360), saturation and value in [0, 1].
func (c Color) Hsv() (float64, float64, float64) {
	return c.toColorful().Hsv()
}

// Distance is the CIE76 distance between two colors in Lab space.
func (c Color) Distance(other Color) float64 {
	return c.toColorful().DistanceLab(other.toColorful())
}

// ColorModel converts arbitrary colors into Color.
var ColorModel = color.ModelFunc(func(c color.Color) color.Color {
	return NewColorFromColor(c)
})
