package calibration

import (
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// Result is a stereo calibration: both camera models and the pose of camera 2 relative to
// camera 1 (p2 = R p1 + T), with the essential and fundamental matrices it implies. It is
// never modified after creation and every accessor returns a copy.
type Result struct {
	id     string
	size   image.Point
	k1, k2 transform.PinholeCameraIntrinsics
	d1, d2 transform.BrownConrady
	rot    *mat.Dense
	t      r3.Vector
	e, f   *mat.Dense
	rms    float64
	pairs  int
}

// NewResult assembles a calibration from its parts, computing E and F.
func NewResult(
	id string,
	size image.Point,
	k1, k2 *transform.PinholeCameraIntrinsics,
	d1, d2 *transform.BrownConrady,
	rot mat.Matrix,
	t r3.Vector,
) (*Result, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if err := k1.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "camera 1")
	}
	if err := k2.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "camera 2")
	}
	if err := d1.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "camera 1")
	}
	if err := d2.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "camera 2")
	}
	if r, c := rot.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	rotation := mat.DenseCopyOf(rot)
	if !utils.IsFinite(rotation.RawMatrix().Data...) || !utils.IsFinite(t.X, t.Y, t.Z) {
		return nil, errors.New("relative pose must be finite")
	}
	if t.Norm() == 0 {
		return nil, errors.New("cameras cannot share an optical center")
	}
	e := transform.EssentialFromPose(rotation, t)
	return &Result{
		id:   id,
		size: size,
		k1:   *k1,
		k2:   *k2,
		d1:   *d1,
		d2:   *d2,
		rot:  rotation,
		t:    t,
		e:    e,
		f:    transform.FundamentalFromEssential(k1, k2, e),
	}, nil
}

// ID identifies the calibration run that produced the result.
func (r *Result) ID() string {
	return r.id
}

// ImageSize is the size of the calibration images.
func (r *Result) ImageSize() image.Point {
	return r.size
}

// K1 returns the camera matrix parameters of camera 1.
func (r *Result) K1() *transform.PinholeCameraIntrinsics {
	k := r.k1
	return &k
}

// K2 returns the camera matrix parameters of camera 2.
func (r *Result) K2() *transform.PinholeCameraIntrinsics {
	k := r.k2
	return &k
}

// D1 returns the distortion of camera 1.
func (r *Result) D1() *transform.BrownConrady {
	d := r.d1
	return &d
}

// D2 returns the distortion of camera 2.
func (r *Result) D2() *transform.BrownConrady {
	d := r.d2
	return &d
}

// Model1 returns the full model of camera 1.
func (r *Result) Model1() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: r.K1(), Distortion: r.D1()}
}

// Model2 returns the full model of camera 2.
func (r *Result) Model2() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: r.K2(), Distortion: r.D2()}
}

// R returns the rotation from camera 1 to camera 2.
func (r *Result) R() *mat.Dense {
	return mat.DenseCopyOf(r.rot)
}

// T returns the translation from camera 1 to camera 2.
func (r *Result) T() r3.Vector {
	return r.t
}

// E returns the essential matrix [T]x R.
func (r *Result) E() *mat.Dense {
	return mat.DenseCopyOf(r.e)
}

// F returns the fundamental matrix K2^-T E K1^-1.
func (r *Result) F() *mat.Dense {
	return mat.DenseCopyOf(r.f)
}

// RMS is the root mean square reprojection error of the solve, in pixels. It is 0 for results
// that were loaded rather than solved.
func (r *Result) RMS() float64 {
	return r.rms
}

// Pairs is the number of image pairs the result was solved from.
func (r *Result) Pairs() int {
	return r.pairs
}

// Baseline is the distance between the optical centers, in board units.
func (r *Result) Baseline() float64 {
	return r.t.Norm()
}

// Scaled returns the calibration of the same rig after both images are resized by factor.
func (r *Result) Scaled(factor float64) (*Result, error) {
	if factor <= 0 {
		return nil, errors.Errorf("scale factor must be positive, got %v", factor)
	}
	size := image.Point{int(float64(r.size.X)*factor + 0.5), int(float64(r.size.Y)*factor + 0.5)}
	scaled, err := NewResult(r.id, size, r.k1.Scaled(factor), r.k2.Scaled(factor), &r.d1, &r.d2, r.rot, r.t)
	if err != nil {
		return nil, err
	}
	scaled.rms = r.rms * factor
	scaled.pairs = r.pairs
	return scaled, nil
}
