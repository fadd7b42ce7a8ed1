package rimage

import (
	"math"
)

// Band limits of the false color ramp. Each band is linear in the input value.
const (
	bandCyan   = 51
	bandGreen  = 102
	bandYellow = 153
	bandOrange = 204
)

// FalseColorValue maps a scalar to the five band ramp blue, cyan, green, yellow, red. The input
// is clamped to [0, 255] and truncated to an integer level before lookup.
//
// Levels above 204 fade from orange (255,127,0) to red (255,0,0) so hue keeps decreasing. The
// flat top band written as the byte triple (255,255,0) in blue, green, red order is cyan, and
// yellow when read as red, green, blue; neither continues the ramp, so it is not used.
func FalseColorValue(v float64) Color {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return falseColorTable[int(v)]
}

var falseColorTable = func() [256]Color {
	var table [256]Color
	for v := 0; v < 256; v++ {
		table[v] = falseColorLevel(v)
	}
	return table
}()

func falseColorLevel(v int) Color {
	switch {
	case v <= bandCyan:
		return Color{0, 0, 255}
	case v <= bandGreen:
		t := v - bandCyan
		return Color{0, 255, uint8(255 - 5*t)}
	case v <= bandYellow:
		t := v - bandGreen
		return Color{uint8(5 * t), 255, 0}
	case v <= bandOrange:
		t := float64(v - bandYellow)
		return Color{255, uint8(255 - int(128*t/51+0.5)), 0}
	default:
		t := float64(v - bandOrange)
		return Color{255, uint8(127 - int(127*t/51+0.5)), 0}
	}
}

// FalseColor maps every pixel of a gray image through FalseColorValue.
func FalseColor(g *GrayImage) *Image {
	out := NewImage(g.Width(), g.Height())
	for k, v := range g.data {
		out.data[k] = falseColorTable[v]
	}
	return out
}
