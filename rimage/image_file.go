package rimage

import (
	"bufio"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"

	"go.viam.com/stereo/utils"
)

// ReadImageFromFile decodes a png, jpeg, ppm or qoi file.
func ReadImageFromFile(path string) (img image.Image, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open image %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	img, _, err = image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode image %q", path)
	}
	return img, nil
}

// ReadGrayFromFile reads an image file and converts it to gray.
func ReadGrayFromFile(path string) (*GrayImage, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	gray := ConvertToGray(img)
	if gray.Empty() {
		return nil, errors.Errorf("image %q is empty", path)
	}
	return gray, nil
}

// WriteImageToFile writes an image, choosing the encoding from the extension. Unknown
// extensions are written as png.
func WriteImageToFile(path string, img image.Image) (err error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create image %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	switch utils.Ext(path) {
	case "jpg", "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case "ppm":
		err = ppm.Encode(f, toRGBA(img))
	case "qoi":
		err = qoi.Encode(f, img)
	default:
		err = png.Encode(f, img)
	}
	return errors.Wrapf(err, "cannot encode image %q", path)
}

// toRGBA returns img as an *image.RGBA, the only layout the ppm encoder accepts.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
