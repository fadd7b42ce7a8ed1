package rimage

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestUpscaleAndScale(t *testing.T) {
	g := NewGrayImage(10, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 10; x++ {
			g.Set(x, y, 128)
		}
	}
	up := Upscale(g, 2)
	test.That(t, up.Size(), test.ShouldResemble, image.Point{20, 12})
	test.That(t, up.Get(10, 6), test.ShouldEqual, uint8(128))
	test.That(t, Upscale(g, 1).Size(), test.ShouldResemble, g.Size())

	half := ScaleGray(g, 0.5)
	test.That(t, half.Size(), test.ShouldResemble, image.Point{5, 3})
	test.That(t, ScaleGray(g, 1.5).Size(), test.ShouldResemble, image.Point{15, 9})
}

func TestFitWithinAndAnnotate(t *testing.T) {
	img := NewImage(1280, 640)
	fit := FitWithin(img, 640)
	test.That(t, fit.Bounds().Dx(), test.ShouldEqual, 640)
	test.That(t, fit.Bounds().Dy(), test.ShouldEqual, 320)
	small := NewImage(20, 10)
	test.That(t, FitWithin(small, 640), test.ShouldEqual, small)

	annotated := Annotate(small, "disp", image.Rect(2, 2, 8, 8))
	test.That(t, annotated.Bounds(), test.ShouldResemble, small.Bounds())
}
