package cli

import (
	"image"
	"image/color"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/rectification"
)

// rowSpacing is the distance in pixels between the rows drawn across a rectified pair.
const rowSpacing = 16

// RectifyAction is the corresponding Action for 'rectify'.
func RectifyAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("expected a left and a right image")
	}
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	rect, err := pipeline.LoadRectification(cfg)
	if err != nil {
		return err
	}

	var raw rectification.FramePair
	for i, path := range []string{c.Args().Get(0), c.Args().Get(1)} {
		img, err := rimage.ReadGrayFromFile(path)
		if err != nil {
			return err
		}
		if cfg.Scale != 1 {
			img = rimage.ScaleGray(img, cfg.Scale)
		}
		if i == 0 {
			raw.Left = img
		} else {
			raw.Right = img
		}
	}
	rectified, err := rect.Rectify(raw)
	if err != nil {
		return err
	}

	dir := c.String(outDirFlag)
	outputs := map[string]image.Image{
		"rectified_left.png":  rectified.Left,
		"rectified_right.png": rectified.Right,
		"rectified_pair.png":  sideBySide(rectified),
	}
	for name, img := range outputs {
		if err := rimage.WriteImageToFile(filepath.Join(dir, name), img); err != nil {
			return err
		}
	}
	infof(c.App.Writer, "rectified pair written to %s", dir)
	return nil
}

// sideBySide places both images next to each other with rows drawn across them, so matching
// features can be checked to lie on the same row.
func sideBySide(pair rectification.FramePair) image.Image {
	w, h := pair.Left.Width(), pair.Left.Height()
	dc := gg.NewContext(w+pair.Right.Width(), max(h, pair.Right.Height()))
	dc.DrawImage(pair.Left, 0, 0)
	dc.DrawImage(pair.Right, w, 0)
	dc.SetColor(color.RGBA{G: 255, A: 255})
	dc.SetLineWidth(1)
	for y := rowSpacing / 2; y < dc.Height(); y += rowSpacing {
		dc.DrawLine(0, float64(y)+0.5, float64(dc.Width()), float64(y)+0.5)
	}
	dc.Stroke()
	return dc.Image()
}
