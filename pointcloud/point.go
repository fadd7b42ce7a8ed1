package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// NewVector returns the point (x, y, z).
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

func finite(v r3.Vector) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Data is what a cloud stores next to a position. Points reprojected from a disparity map carry
// the color of their left image pixel when one was given.
type Data interface {
	HasColor() bool
	// RGB255 is only meaningful when HasColor is true.
	RGB255() (uint8, uint8, uint8)
	Color() color.Color
}

type pointData struct {
	c     color.NRGBA
	color bool
}

// NewBasicData returns data for a point without color.
func NewBasicData() Data {
	return pointData{}
}

// NewColoredData returns data for a point of color c.
func NewColoredData(c color.NRGBA) Data {
	return pointData{c: c, color: true}
}

func (d pointData) HasColor() bool {
	return d.color
}

func (d pointData) RGB255() (uint8, uint8, uint8) {
	return d.c.R, d.c.G, d.c.B
}

func (d pointData) Color() color.Color {
	return d.c
}
