package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage/transform"
)

// planarHomography fits the homography taking the z=0 board plane to the image.
func planarHomography(objectPoints []r3.Vector, imagePoints []r2.Point) (*mat.Dense, error) {
	if len(objectPoints) != len(imagePoints) {
		return nil, errors.Errorf("%d object points for %d image points", len(objectPoints), len(imagePoints))
	}
	plane := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		if math.Abs(p.Z) > 1e-9 {
			return nil, errors.New("object points must lie on the z=0 plane")
		}
		plane[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return transform.FindHomography(plane, imagePoints)
}

// InitCameraMatrix computes a closed form camera matrix from planar views: the principal point
// is the image center and the focal lengths solve, in the least squares sense, the
// orthogonality and equal norm constraints each view's homography puts on the rotation.
func InitCameraMatrix(objectPoints []r3.Vector, imagePoints [][]r2.Point, size image.Point) (*transform.PinholeCameraIntrinsics, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if len(imagePoints) == 0 {
		return nil, errors.New("no views to initialize the camera matrix")
	}
	cx := float64(size.X-1) * 0.5
	cy := float64(size.Y-1) * 0.5
	shift := mat.NewDense(3, 3, []float64{1, 0, -cx, 0, 1, -cy, 0, 0, 1})

	a := mat.NewDense(2*len(imagePoints), 2, nil)
	b := mat.NewVecDense(2*len(imagePoints), nil)
	for i, pts := range imagePoints {
		h, err := planarHomography(objectPoints, pts)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		var hc mat.Dense
		hc.Mul(shift, h)

		var col1, col2, d1, d2 [3]float64
		var n [4]float64
		for j := 0; j < 3; j++ {
			t0, t1 := hc.At(j, 0), hc.At(j, 1)
			col1[j], col2[j] = t0, t1
			d1[j], d2[j] = (t0+t1)*0.5, (t0-t1)*0.5
			n[0] += t0 * t0
			n[1] += t1 * t1
			n[2] += d1[j] * d1[j]
			n[3] += d2[j] * d2[j]
		}
		for j := range n {
			n[j] = 1 / math.Sqrt(n[j])
		}
		for j := 0; j < 3; j++ {
			col1[j] *= n[0]
			col2[j] *= n[1]
			d1[j] *= n[2]
			d2[j] *= n[3]
		}
		a.SetRow(2*i, []float64{col1[0] * col2[0], col1[1] * col2[1]})
		b.SetVec(2*i, -col1[2]*col2[2])
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}

	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return nil, errors.Wrap(err, "cannot solve for the focal lengths")
	}
	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	k := &transform.PinholeCameraIntrinsics{
		Width:  size.X,
		Height: size.Y,
		Fx:     fx,
		Fy:     fy,
		Ppx:    cx,
		Ppy:    cy,
	}
	if err := k.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "degenerate views")
	}
	return k, nil
}
