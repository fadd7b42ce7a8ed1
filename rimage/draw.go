package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// captionSize is the font size of captions drawn by Annotate, in points.
const captionSize = 12

var captionFace = mustFace(goregular.TTF, captionSize)

func mustFace(ttf []byte, size float64) font.Face {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic(err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size})
}

// Annotate returns a copy of img with caption written in the top left corner over a dark band,
// and the outline of roi when it is not empty.
func Annotate(img image.Image, caption string, roi image.Rectangle) image.Image {
	dc := gg.NewContextForImage(img)
	if !roi.Empty() {
		dc.SetColor(Green)
		dc.SetLineWidth(1)
		dc.DrawRectangle(float64(roi.Min.X)+0.5, float64(roi.Min.Y)+0.5, float64(roi.Dx()-1), float64(roi.Dy()-1))
		dc.Stroke()
	}
	if caption == "" {
		return dc.Image()
	}
	dc.SetFontFace(captionFace)
	w, h := dc.MeasureString(caption)
	dc.SetColor(color.NRGBA{A: 160})
	dc.DrawRectangle(0, 0, w+8, h+8)
	dc.Fill()
	dc.SetColor(Yellow)
	dc.DrawStringAnchored(caption, 4, 4, 0, 1)
	return dc.Image()
}
