// Package rectification computes the transforms that make the epipolar lines of a calibrated
// stereo pair horizontal (or vertical) and resamples frames with them.
package rectification

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/calibration"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// MissingZ is the depth given to pixels without a valid disparity by Reproject.
const MissingZ = 10000.

// Options control the rectified camera.
type Options struct {
	// Alpha is -1 for the default scaling, 0 to show only valid pixels, 1 to keep every source
	// pixel; values in between blend.
	Alpha float64 `json:"alpha"`
	// ZeroDisparity gives both rectified cameras the same principal point.
	ZeroDisparity bool `json:"zero_disparity"`
}

// DefaultOptions are used for live rectification.
func DefaultOptions() Options {
	return Options{Alpha: -1, ZeroDisparity: true}
}

// Validate ensures all parts of the options are valid.
func (o Options) Validate(path string) error {
	if o.Alpha != -1 && (o.Alpha < 0 || o.Alpha > 1) {
		return utils.NewOutOfRangeError(path+".alpha", o.Alpha, "-1 or within [0, 1]")
	}
	return nil
}

// Result is the rectification of a calibrated rig at one image size. It is never modified after
// creation.
type Result struct {
	calib      *calibration.Result
	size       image.Point
	vertical   bool
	r1, r2     *mat.Dense
	p1, p2     *mat.Dense
	q          *mat.Dense
	roi1, roi2 image.Rectangle
	map1, map2 *RemapTable
}

// FramePair is a left and right frame taken at the same time.
type FramePair struct {
	Left, Right *rimage.GrayImage
}

// rectF is a rectangle with float coordinates.
type rectF struct {
	x, y, w, h float64
}

// Compute rectifies calib for images of the given size with Bouguet's method: each camera is
// rotated by half of the relative rotation, then both are turned so the baseline lies on the
// image axis it is closest to.
func Compute(calib *calibration.Result, size image.Point, opts Options) (*Result, error) {
	if calib == nil {
		return nil, errors.New("no calibration to rectify")
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if size != calib.ImageSize() {
		return nil, errors.Wrapf(rimage.ErrSizeMismatch, "calibrated for %v, rectifying %v; scale the calibration first",
			calib.ImageSize(), size)
	}
	if err := opts.Validate("rectification"); err != nil {
		return nil, err
	}
	k1, k2 := calib.K1(), calib.K2()
	d1, d2 := calib.D1(), calib.D2()
	tvec := calib.T()

	// split the rotation between the two cameras
	om := transform.RotationToRodrigues(calib.R()).Mul(-0.5)
	rr := transform.RodriguesToRotation(om)
	t := transform.RotateVector(rr, tvec)

	idx := 0
	if math.Abs(t.X) <= math.Abs(t.Y) {
		idx = 1
	}
	c := component(t, idx)
	nt := t.Norm()
	if nt == 0 {
		return nil, errors.New("zero baseline")
	}
	var uu r3.Vector
	if c > 0 {
		setComponent(&uu, idx, 1)
	} else {
		setComponent(&uu, idx, -1)
	}
	ww := t.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Min(math.Abs(c)/nt, 1)) / nw)
	}
	wr := transform.RodriguesToRotation(ww)

	var rot1, rot2 mat.Dense
	rot1.Mul(wr, rr.T())
	rot2.Mul(wr, rr)
	tRect := transform.RotateVector(&rot2, tvec)

	// focal length on the axis across the baseline
	other := 1 - idx
	fc := (focal(k1, other) + focal(k2, other)) / 2

	// principal points from the undistorted image corners
	models := [2]*transform.PinholeCameraModel{
		{PinholeCameraIntrinsics: k1, Distortion: d1},
		{PinholeCameraIntrinsics: k2, Distortion: d2},
	}
	rots := [2]*mat.Dense{&rot1, &rot2}
	corners := []r2.Point{
		{X: 0, Y: 0}, {X: float64(size.X - 1), Y: 0},
		{X: 0, Y: float64(size.Y - 1)}, {X: float64(size.X - 1), Y: float64(size.Y - 1)},
	}
	bare := mat.NewDense(3, 3, []float64{fc, 0, 0, 0, fc, 0, 0, 0, 1})
	var cc [2]r2.Point
	for cam := 0; cam < 2; cam++ {
		pts := UndistortPoints(models[cam], rots[cam], bare, corners)
		var avg r2.Point
		for _, p := range pts {
			avg = avg.Add(p)
		}
		avg = avg.Mul(1 / float64(len(pts)))
		cc[cam] = r2.Point{X: float64(size.X-1)/2 - avg.X, Y: float64(size.Y-1)/2 - avg.Y}
	}
	if opts.ZeroDisparity {
		mid := cc[0].Add(cc[1]).Mul(0.5)
		cc[0], cc[1] = mid, mid
	} else if idx == 0 {
		cc[0].Y = (cc[0].Y + cc[1].Y) / 2
		cc[1].Y = cc[0].Y
	} else {
		cc[0].X = (cc[0].X + cc[1].X) / 2
		cc[1].X = cc[0].X
	}

	// valid regions of both cameras before any scaling
	var inner, outer [2]rectF
	for cam := 0; cam < 2; cam++ {
		inner[cam], outer[cam] = validRectangles(models[cam], rots[cam], projection(fc, cc[cam], 0, idx), size)
	}

	s := 1.
	if opts.Alpha >= 0 {
		w, h := float64(size.X), float64(size.Y)
		s0, s1 := 0., math.Inf(1)
		for cam := 0; cam < 2; cam++ {
			cx, cy := cc[cam].X, cc[cam].Y
			in, out := inner[cam], outer[cam]
			s0 = max(s0, cx/(cx-in.x), cy/(cy-in.y), (w-cx)/(in.x+in.w-cx), (h-cy)/(in.y+in.h-cy))
			s1 = min(s1, cx/(cx-out.x), cy/(cy-out.y), (w-cx)/(out.x+out.w-cx), (h-cy)/(out.y+out.h-cy))
		}
		s = s0*(1-opts.Alpha) + s1*opts.Alpha
		if !utils.IsFinite(s) || s <= 0 {
			return nil, errors.New("degenerate rectification: image corners do not bound the valid region")
		}
	}
	fc *= s
	tx := component(tRect, idx)

	res := &Result{
		calib:    calib,
		size:     size,
		vertical: idx == 1,
		r1:       &rot1,
		r2:       &rot2,
		p1:       projection(fc, cc[0], 0, idx),
		p2:       projection(fc, cc[1], tx*fc, idx),
	}
	res.roi1 = scaledROI(inner[0], cc[0], s, size)
	res.roi2 = scaledROI(inner[1], cc[1], s, size)

	q := mat.NewDense(4, 4, nil)
	q.Set(0, 0, 1)
	q.Set(0, 3, -cc[0].X)
	q.Set(1, 1, 1)
	q.Set(1, 3, -cc[0].Y)
	q.Set(2, 3, fc)
	q.Set(3, 2, -1/tx)
	if idx == 0 {
		q.Set(3, 3, (cc[0].X-cc[1].X)/tx)
	} else {
		q.Set(3, 3, (cc[0].Y-cc[1].Y)/tx)
	}
	res.q = q
	if !utils.IsFinite(q.RawMatrix().Data...) || !utils.IsFinite(res.p2.RawMatrix().Data...) {
		return nil, errors.New("degenerate rectification: non-finite projection")
	}

	var err error
	if res.map1, err = UndistortRectifyMap(k1, d1, res.r1, res.p1, size); err != nil {
		return nil, errors.Wrap(err, "camera 1")
	}
	if res.map2, err = UndistortRectifyMap(k2, d2, res.r2, res.p2, size); err != nil {
		return nil, errors.Wrap(err, "camera 2")
	}
	return res, nil
}

func component(v r3.Vector, idx int) float64 {
	if idx == 0 {
		return v.X
	}
	return v.Y
}

func setComponent(v *r3.Vector, idx int, val float64) {
	if idx == 0 {
		v.X = val
	} else {
		v.Y = val
	}
}

func focal(k *transform.PinholeCameraIntrinsics, axis int) float64 {
	if axis == 0 {
		return k.Fx
	}
	return k.Fy
}

// projection returns [fc 0 cx tx; 0 fc cy ty; 0 0 1 0] with the baseline term on axis idx.
func projection(fc float64, c r2.Point, baseline float64, idx int) *mat.Dense {
	p := mat.NewDense(3, 4, []float64{
		fc, 0, c.X, 0,
		0, fc, c.Y, 0,
		0, 0, 1, 0,
	})
	p.Set(idx, 3, baseline)
	return p
}

// UndistortPoints removes the lens distortion of pixels of model, rotates the rays by r and
// projects them with the leading 3x3 block of p.
func UndistortPoints(model *transform.PinholeCameraModel, r, p mat.Matrix, pts []r2.Point) []r2.Point {
	pr := leftBlock(p)
	var m mat.Dense
	m.Mul(pr, r)
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		n := model.UndistortPixel(pt, nil)
		x := m.At(0, 0)*n.X + m.At(0, 1)*n.Y + m.At(0, 2)
		y := m.At(1, 0)*n.X + m.At(1, 1)*n.Y + m.At(1, 2)
		w := m.At(2, 0)*n.X + m.At(2, 1)*n.Y + m.At(2, 2)
		out[i] = r2.Point{X: x / w, Y: y / w}
	}
	return out
}

// validRectangles samples a 9x9 grid over the source image and returns the largest rectangle
// inside its rectified border (inner) and the bounding box of all samples (outer).
func validRectangles(model *transform.PinholeCameraModel, r, p mat.Matrix, size image.Point) (rectF, rectF) {
	const n = 9
	grid := make([]r2.Point, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			grid = append(grid, r2.Point{
				X: float64(x) * float64(size.X-1) / (n - 1),
				Y: float64(y) * float64(size.Y-1) / (n - 1),
			})
		}
	}
	pts := UndistortPoints(model, r, p, grid)

	ix0, iy0 := math.Inf(-1), math.Inf(-1)
	ix1, iy1 := math.Inf(1), math.Inf(1)
	ox0, oy0 := math.Inf(1), math.Inf(1)
	ox1, oy1 := math.Inf(-1), math.Inf(-1)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			pt := pts[y*n+x]
			ox0, ox1 = math.Min(ox0, pt.X), math.Max(ox1, pt.X)
			oy0, oy1 = math.Min(oy0, pt.Y), math.Max(oy1, pt.Y)
			if x == 0 {
				ix0 = math.Max(ix0, pt.X)
			}
			if x == n-1 {
				ix1 = math.Min(ix1, pt.X)
			}
			if y == 0 {
				iy0 = math.Max(iy0, pt.Y)
			}
			if y == n-1 {
				iy1 = math.Min(iy1, pt.Y)
			}
		}
	}
	return rectF{ix0, iy0, ix1 - ix0, iy1 - iy0}, rectF{ox0, oy0, ox1 - ox0, oy1 - oy0}
}

// scaledROI scales the inner rectangle about the principal point and clips it to the image.
func scaledROI(in rectF, c r2.Point, s float64, size image.Point) image.Rectangle {
	x0 := int(math.Ceil((in.x-c.X)*s + c.X))
	y0 := int(math.Ceil((in.y-c.Y)*s + c.Y))
	roi := image.Rect(x0, y0, x0+int(math.Floor(in.w*s)), y0+int(math.Floor(in.h*s)))
	return roi.Intersect(image.Rect(0, 0, size.X, size.Y))
}

// Calibration is the calibration the rectification was computed from.
func (r *Result) Calibration() *calibration.Result {
	return r.calib
}

// ImageSize is the size of both rectified images.
func (r *Result) ImageSize() image.Point {
	return r.size
}

// Vertical reports whether the cameras are stacked vertically.
func (r *Result) Vertical() bool {
	return r.vertical
}

// R1 is the rectifying rotation of camera 1.
func (r *Result) R1() *mat.Dense {
	return mat.DenseCopyOf(r.r1)
}

// R2 is the rectifying rotation of camera 2.
func (r *Result) R2() *mat.Dense {
	return mat.DenseCopyOf(r.r2)
}

// P1 is the 3x4 projection of rectified camera 1.
func (r *Result) P1() *mat.Dense {
	return mat.DenseCopyOf(r.p1)
}

// P2 is the 3x4 projection of rectified camera 2; its baseline term is fc*T.
func (r *Result) P2() *mat.Dense {
	return mat.DenseCopyOf(r.p2)
}

// Q maps (x, y, disparity, 1) to homogeneous 3D points in the rectified camera 1 frame.
func (r *Result) Q() *mat.Dense {
	return mat.DenseCopyOf(r.q)
}

// ROI1 is the region of the rectified image 1 where every pixel is valid.
func (r *Result) ROI1() image.Rectangle {
	return r.roi1
}

// ROI2 is the region of the rectified image 2 where every pixel is valid.
func (r *Result) ROI2() image.Rectangle {
	return r.roi2
}

// Maps returns the remap tables of both cameras. They are shared, not copied, and must not be
// modified.
func (r *Result) Maps() (*RemapTable, *RemapTable) {
	return r.map1, r.map2
}

// Rectify resamples both frames of pair.
func (r *Result) Rectify(pair FramePair) (FramePair, error) {
	left, err := r.map1.Apply(pair.Left)
	if err != nil {
		return FramePair{}, errors.Wrap(err, "left")
	}
	right, err := r.map2.Apply(pair.Right)
	if err != nil {
		return FramePair{}, errors.Wrap(err, "right")
	}
	return FramePair{Left: left, Right: right}, nil
}

// RectifyPoints maps raw pixels of camera 1 or 2 to their rectified position.
func (r *Result) RectifyPoints(camera int, pts []r2.Point) ([]r2.Point, error) {
	switch camera {
	case 1:
		return UndistortPoints(r.calib.Model1(), r.r1, r.p1, pts), nil
	case 2:
		return UndistortPoints(r.calib.Model2(), r.r2, r.p2, pts), nil
	default:
		return nil, errors.Errorf("camera must be 1 or 2, got %d", camera)
	}
}

// Reproject turns a disparity map of the rectified pair into one 3D point per pixel, in row
// major order. Pixels without a disparity are placed at depth MissingZ.
func (r *Result) Reproject(disp *rimage.DisparityMap) []r3.Vector {
	q := r.q.RawMatrix().Data
	out := make([]r3.Vector, disp.Width()*disp.Height())
	for y := 0; y < disp.Height(); y++ {
		for x := 0; x < disp.Width(); x++ {
			d, ok := disp.Pixels(x, y)
			if !ok {
				out[y*disp.Width()+x] = r3.Vector{X: float64(x), Y: float64(y), Z: MissingZ}
				continue
			}
			fx, fy := float64(x), float64(y)
			px := q[0]*fx + q[1]*fy + q[2]*d + q[3]
			py := q[4]*fx + q[5]*fy + q[6]*d + q[7]
			pz := q[8]*fx + q[9]*fy + q[10]*d + q[11]
			w := q[12]*fx + q[13]*fy + q[14]*d + q[15]
			out[y*disp.Width()+x] = r3.Vector{X: px / w, Y: py / w, Z: pz / w}
		}
	}
	return out
}

// ExtrinsicsDocument is the persisted relative pose together with the rectification.
func (r *Result) ExtrinsicsDocument() *calibration.ExtrinsicsDocument {
	doc := r.calib.ExtrinsicsDocument()
	doc.R1 = calibration.NewMatrix(r.r1)
	doc.R2 = calibration.NewMatrix(r.r2)
	doc.P1 = calibration.NewMatrix(r.p1)
	doc.P2 = calibration.NewMatrix(r.p2)
	doc.Q = calibration.NewMatrix(r.q)
	roi1, roi2 := calibration.NewRect(r.roi1), calibration.NewRect(r.roi2)
	doc.ROI1, doc.ROI2 = &roi1, &roi2
	return doc
}
