package rimage

import (
	"image"
	"image/color"
	"math"
)

const (
	// DisparityShift is the number of fractional bits in a fixed point disparity.
	DisparityShift = 4
	// DisparityScale is the fixed point scale: a stored value of 16 is one pixel.
	DisparityScale = 1 << DisparityShift
)

// DisparityMap holds signed fixed point disparities with DisparityScale sub-pixel steps. Pixels
// without a match hold Invalid(), which is one step below the smallest searched disparity.
type DisparityMap struct {
	data           []int16
	width, height  int
	minDisparity   int
	numDisparities int
}

// NewDisparityMap returns a map where every pixel is invalid.
func NewDisparityMap(width, height, minDisparity, numDisparities int) *DisparityMap {
	dm := &DisparityMap{
		data:           make([]int16, width*height),
		width:          width,
		height:         height,
		minDisparity:   minDisparity,
		numDisparities: numDisparities,
	}
	invalid := dm.Invalid()
	for k := range dm.data {
		dm.data[k] = invalid
	}
	return dm
}

// Invalid is the sentinel for unmatched pixels.
func (dm *DisparityMap) Invalid() int16 {
	return int16((dm.minDisparity - 1) * DisparityScale)
}

func (dm *DisparityMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// Width returns the width.
func (dm *DisparityMap) Width() int {
	return dm.width
}

// Height returns the height.
func (dm *DisparityMap) Height() int {
	return dm.height
}

// MinDisparity is the smallest disparity that was searched, in pixels.
func (dm *DisparityMap) MinDisparity() int {
	return dm.minDisparity
}

// NumDisparities is the size of the search range, in pixels.
func (dm *DisparityMap) NumDisparities() int {
	return dm.numDisparities
}

// Bounds returns the extent of the map.
func (dm *DisparityMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// In reports whether (x, y) is inside the map.
func (dm *DisparityMap) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// Get returns the fixed point disparity at (x, y); outside the map it returns Invalid().
func (dm *DisparityMap) Get(x, y int) int16 {
	if !dm.In(x, y) {
		return dm.Invalid()
	}
	return dm.data[dm.kxy(x, y)]
}

// Set writes a fixed point disparity. Writes outside the map are dropped.
func (dm *DisparityMap) Set(x, y int, d int16) {
	if !dm.In(x, y) {
		return
	}
	dm.data[dm.kxy(x, y)] = d
}

// Row returns the disparities of row y. The slice aliases the map.
func (dm *DisparityMap) Row(y int) []int16 {
	if y < 0 || y >= dm.height {
		return nil
	}
	return dm.data[y*dm.width : (y+1)*dm.width]
}

// IsValid reports whether (x, y) holds a match.
func (dm *DisparityMap) IsValid(x, y int) bool {
	return dm.In(x, y) && dm.data[dm.kxy(x, y)] != dm.Invalid()
}

// Pixels returns the disparity at (x, y) in pixels and whether it is valid.
func (dm *DisparityMap) Pixels(x, y int) (float64, bool) {
	if !dm.IsValid(x, y) {
		return math.NaN(), false
	}
	return float64(dm.data[dm.kxy(x, y)]) / DisparityScale, true
}

// ValidCount returns the number of matched pixels.
func (dm *DisparityMap) ValidCount() int {
	invalid := dm.Invalid()
	n := 0
	for _, d := range dm.data {
		if d != invalid {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (dm *DisparityMap) Clone() *DisparityMap {
	ret := *dm
	ret.data = append([]int16(nil), dm.data...)
	return &ret
}

// Visualize rescales the map to 8 bits with the fixed transform d*255/(numDisparities*16).
// Invalid and negative values saturate to 0.
func (dm *DisparityMap) Visualize() *GrayImage {
	out := NewGrayImage(dm.width, dm.height)
	if dm.numDisparities <= 0 {
		return out
	}
	scale := 255 / float64(dm.numDisparities*DisparityScale)
	for k, d := range dm.data {
		v := math.Round(float64(d) * scale)
		switch {
		case v <= 0:
			out.data[k] = 0
		case v >= 255:
			out.data[k] = 255
		default:
			out.data[k] = uint8(v)
		}
	}
	return out
}

// ColorModel implements image.Image, rendering the visualization.
func (dm *DisparityMap) ColorModel() color.Model {
	return color.GrayModel
}

// At implements image.Image, rendering the visualization.
func (dm *DisparityMap) At(x, y int) color.Color {
	if dm.numDisparities <= 0 {
		return color.Gray{}
	}
	v := math.Round(float64(dm.Get(x, y)) * 255 / float64(dm.numDisparities*DisparityScale))
	if v <= 0 {
		return color.Gray{}
	}
	if v >= 255 {
		return color.Gray{255}
	}
	return color.Gray{uint8(v)}
}
