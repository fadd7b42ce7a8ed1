package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Upscale enlarges a gray image by an integer factor with bilinear interpolation. Coordinates
// found in the result map back through (p+0.5)/factor-0.5.
func Upscale(img *GrayImage, factor int) *GrayImage {
	if factor <= 1 {
		return img.Clone()
	}
	resized := imaging.Resize(img, img.Width()*factor, img.Height()*factor, imaging.Linear)
	return ConvertToGray(resized)
}

// FitWithin shrinks an image so its longest side is at most maxSide, keeping aspect. Smaller
// images are returned as is.
func FitWithin(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if longest <= maxSide || longest == 0 {
		return img
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Linear)
}

// ScaleGray resizes by a real factor: bicubic when enlarging, bilinear when shrinking.
func ScaleGray(img *GrayImage, factor float64) *GrayImage {
	if factor == 1 || factor <= 0 {
		return img.Clone()
	}
	w := uint(float64(img.Width())*factor + 0.5)
	h := uint(float64(img.Height())*factor + 0.5)
	interp := resize.Bilinear
	if factor > 1 {
		interp = resize.Bicubic
	}
	return ConvertToGray(resize.Resize(w, h, img, interp))
}
