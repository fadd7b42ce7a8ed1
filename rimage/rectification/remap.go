package rectification

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// RemapTable gives, for every pixel of the output image, the position to sample in the source
// image. A table is never modified once built, so it can be shared between goroutines.
type RemapTable struct {
	Width, Height int
	SourceSize    image.Point
	MapX, MapY    []float32
}

// UndistortRectifyMap builds the table mapping the rectified image of a camera back to its raw
// image: an output pixel (u, v) is taken through (P[:3,:3] R)^-1 to the camera's normalized
// plane, distorted and projected with k.
func UndistortRectifyMap(
	k *transform.PinholeCameraIntrinsics,
	d *transform.BrownConrady,
	r, p mat.Matrix,
	size image.Point,
) (*RemapTable, error) {
	if err := k.CheckValid(); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid map size %v", size)
	}
	if rows, cols := p.Dims(); rows != 3 || cols < 3 {
		return nil, errors.Errorf("projection must be 3x3 or 3x4, got %dx%d", rows, cols)
	}
	var kr, ir mat.Dense
	kr.Mul(leftBlock(p), r)
	if err := ir.Inverse(&kr); err != nil {
		return nil, errors.Wrap(err, "rectification transform is singular")
	}
	table := &RemapTable{
		Width:      size.X,
		Height:     size.Y,
		SourceSize: image.Pt(k.Width, k.Height),
		MapX:       make([]float32, size.X*size.Y),
		MapY:       make([]float32, size.X*size.Y),
	}
	i00, i01, i02 := ir.At(0, 0), ir.At(0, 1), ir.At(0, 2)
	i10, i11, i12 := ir.At(1, 0), ir.At(1, 1), ir.At(1, 2)
	i20, i21, i22 := ir.At(2, 0), ir.At(2, 1), ir.At(2, 2)
	for v := 0; v < size.Y; v++ {
		for u := 0; u < size.X; u++ {
			fu, fv := float64(u), float64(v)
			w := i20*fu + i21*fv + i22
			if w == 0 {
				w = math.SmallestNonzeroFloat64
			}
			x := (i00*fu + i01*fv + i02) / w
			y := (i10*fu + i11*fv + i12) / w
			xd, yd := d.Transform(x, y)
			idx := v*size.X + u
			table.MapX[idx] = float32(k.Fx*xd + k.Ppx)
			table.MapY[idx] = float32(k.Fy*yd + k.Ppy)
		}
	}
	return table, nil
}

// leftBlock returns the leading 3x3 block of a projection matrix.
func leftBlock(p mat.Matrix) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, p.At(i, j))
		}
	}
	return out
}

// At returns the source position sampled for output pixel (u, v).
func (t *RemapTable) At(u, v int) (r2.Point, bool) {
	if u < 0 || v < 0 || u >= t.Width || v >= t.Height {
		return r2.Point{}, false
	}
	idx := v*t.Width + u
	return r2.Point{X: float64(t.MapX[idx]), Y: float64(t.MapY[idx])}, true
}

// Apply resamples src through the table with bilinear interpolation. Source pixels outside the
// image read as 0.
func (t *RemapTable) Apply(src *rimage.GrayImage) (*rimage.GrayImage, error) {
	if src.Size() != t.SourceSize {
		return nil, errors.Wrapf(rimage.ErrSizeMismatch, "remap table built for %v, got %v", t.SourceSize, src.Size())
	}
	dst := rimage.NewGrayImage(t.Width, t.Height)
	err := utils.ParallelForEachRow(context.Background(), t.Height, func(v int) {
		row := dst.Row(v)
		for u := range row {
			idx := v*t.Width + u
			row[u] = utils.ClampToUint8(src.Bilinear(float64(t.MapX[idx]), float64(t.MapY[idx])))
		}
	})
	return dst, err
}

// ApplyColor is Apply for color images, used to show rectified frames.
func (t *RemapTable) ApplyColor(src *rimage.Image) (*rimage.Image, error) {
	if image.Pt(src.Width(), src.Height()) != t.SourceSize {
		return nil, errors.Wrapf(rimage.ErrSizeMismatch, "remap table built for %v, got %dx%d",
			t.SourceSize, src.Width(), src.Height())
	}
	dst := rimage.NewImage(t.Width, t.Height)
	for v := 0; v < t.Height; v++ {
		for u := 0; u < t.Width; u++ {
			idx := v*t.Width + u
			x, y := int(math.Round(float64(t.MapX[idx]))), int(math.Round(float64(t.MapY[idx])))
			if src.In(x, y) {
				dst.SetXY(u, v, src.GetXY(x, y))
			}
		}
	}
	return dst, nil
}
