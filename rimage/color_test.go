package rimage

import (
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestColorConversions(t *testing.T) {
	c := NewColorFromColor(color.RGBA{10, 20, 30, 255})
	test.That(t, c, test.ShouldResemble, NewColor(10, 20, 30))
	test.That(t, c.Hex(), test.ShouldEqual, "#0a141e")
	test.That(t, NewColorFromColor(color.Gray{7}), test.ShouldResemble, NewColor(7, 7, 7))

	r, g, b, a := Red.RGBA()
	test.That(t, r, test.ShouldEqual, uint32(0xffff))
	test.That(t, g, test.ShouldEqual, uint32(0))
	test.That(t, b, test.ShouldEqual, uint32(0))
	test.That(t, a, test.ShouldEqual, uint32(0xffff))

	h, s, v := Blue.Hsv()
	test.That(t, h, test.ShouldAlmostEqual, 240.)
	test.That(t, s, test.ShouldAlmostEqual, 1.)
	test.That(t, v, test.ShouldAlmostEqual, 1.)
	test.That(t, Red.Distance(Red), test.ShouldAlmostEqual, 0.)
	test.That(t, Red.Distance(Blue), test.ShouldBeGreaterThan, 0.)
}

func TestImageAccessors(t *testing.T) {
	img := NewImage(2, 2)
	img.SetXY(1, 0, Green)
	img.SetXY(4, 4, Green)
	test.That(t, img.GetXY(1, 0), test.ShouldResemble, Green)
	test.That(t, img.GetXY(-1, 0), test.ShouldResemble, Black)
	test.That(t, img.In(1, 1), test.ShouldBeTrue)
	test.That(t, img.In(2, 1), test.ShouldBeFalse)

	g := NewGrayImage(2, 1)
	g.Set(1, 0, 9)
	test.That(t, GrayToImage(g).GetXY(1, 0), test.ShouldResemble, NewColor(9, 9, 9))
}
