package rimage

import (
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"go.viam.com/test"
)

func TestFalseColorBoundaries(t *testing.T) {
	for _, tc := range []struct {
		in       float64
		expected Color
	}{
		{0, NewColor(0, 0, 255)},
		{51, NewColor(0, 0, 255)},
		{102, NewColor(0, 255, 0)},
		{153, NewColor(255, 255, 0)},
		{204, NewColor(255, 127, 0)},
		{255, NewColor(255, 0, 0)},
	} {
		test.That(t, FalseColorValue(tc.in), test.ShouldResemble, tc.expected)
	}
}

func TestFalseColorTopBandFadesToRed(t *testing.T) {
	for v := 205; v < 256; v++ {
		c := FalseColorValue(float64(v))
		test.That(t, c.R, test.ShouldEqual, uint8(255))
		test.That(t, c.G, test.ShouldBeLessThan, uint8(127))
		test.That(t, c.B, test.ShouldEqual, uint8(0))
		test.That(t, c, test.ShouldNotResemble, NewColor(255, 255, 0))
		test.That(t, c, test.ShouldNotResemble, NewColor(0, 255, 255))
	}
}

func TestFalseColorClamps(t *testing.T) {
	test.That(t, FalseColorValue(-40), test.ShouldResemble, FalseColorValue(0))
	test.That(t, FalseColorValue(1e6), test.ShouldResemble, FalseColorValue(255))
	test.That(t, FalseColorValue(77.9), test.ShouldResemble, FalseColorValue(77))
}

func TestFalseColorMonotonicHue(t *testing.T) {
	// hue walks from blue (240) down to red (0) without ever turning back
	prevHue := 361.
	for v := 0; v < 256; v++ {
		c := FalseColorValue(float64(v))
		h, _, _ := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hsv()
		test.That(t, h, test.ShouldBeLessThanOrEqualTo, prevHue+1e-9)
		prevHue = h
	}
}

func TestFalseColorImageDeterministic(t *testing.T) {
	g := NewGrayImage(4, 2)
	for x := 0; x < 4; x++ {
		g.Set(x, 0, uint8(x*60))
		g.Set(x, 1, uint8(x*60))
	}
	a := FalseColor(g)
	b := FalseColor(g)
	test.That(t, a.Width(), test.ShouldEqual, 4)
	test.That(t, a.Height(), test.ShouldEqual, 2)
	for x := 0; x < 4; x++ {
		test.That(t, a.GetXY(x, 0), test.ShouldResemble, a.GetXY(x, 1))
		test.That(t, a.GetXY(x, 0), test.ShouldResemble, b.GetXY(x, 0))
	}
}
