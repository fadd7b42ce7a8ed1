package chessboard

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"go.viam.com/stereo/rimage"
)

// DrawCorners returns a copy of img with the detected corners drawn on it. A found pattern is
// drawn as one colored polyline per row; otherwise the corners are marked in red.
func DrawCorners(img image.Image, pattern Pattern, corners CornerSet, found bool) *rimage.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(1)
	radius := 3.

	if !found || len(corners) != pattern.Count() {
		dc.SetColor(rimage.Red)
		for _, p := range corners {
			dc.DrawCircle(p.X, p.Y, radius)
			dc.Stroke()
		}
		return rimage.NewImageFromStdImage(dc.Image())
	}

	var prev *colorful.Color
	for r := 0; r < pattern.Height; r++ {
		hue := 360. * float64(r) / float64(pattern.Height)
		c := colorful.Hsv(hue, 1, 1)
		row := corners[r*pattern.Width : (r+1)*pattern.Width]
		if prev != nil {
			// link the end of the previous row to the start of this one
			last := corners[r*pattern.Width-1]
			dc.SetColor(*prev)
			dc.DrawLine(last.X, last.Y, row[0].X, row[0].Y)
			dc.Stroke()
		}
		dc.SetColor(color.Color(c))
		for k, p := range row {
			dc.DrawCircle(p.X, p.Y, radius)
			dc.Stroke()
			if k > 0 {
				dc.DrawLine(row[k-1].X, row[k-1].Y, p.X, p.Y)
				dc.Stroke()
			}
		}
		prev = &c
	}
	return rimage.NewImageFromStdImage(dc.Image())
}
