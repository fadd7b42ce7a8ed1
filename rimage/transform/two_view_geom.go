package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SkewSymmetric returns the cross product matrix [t]x so that [t]x v = t x v.
func SkewSymmetric(t r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -t.Z, t.Y,
		t.Z, 0, -t.X,
		-t.Y, t.X, 0,
	})
}

// EssentialFromPose returns E = [t]x R for the pose mapping camera 1 to camera 2.
func EssentialFromPose(rot mat.Matrix, t r3.Vector) *mat.Dense {
	var e mat.Dense
	e.Mul(SkewSymmetric(t), rot)
	return &e
}

// FundamentalFromEssential returns F = K2^-T E K1^-1, scaled so F[2][2] = 1 when it is not
// vanishingly small.
func FundamentalFromEssential(k1, k2 *PinholeCameraIntrinsics, e mat.Matrix) *mat.Dense {
	var f mat.Dense
	f.Mul(k2.InverseMatrix().T(), e)
	f.Mul(&f, k1.InverseMatrix())
	if s := f.At(2, 2); math.Abs(s) > 1e-12 {
		f.Scale(1/s, &f)
	}
	return &f
}

// ComputeCorrespondEpilines returns, for each point of image `whichImage` (1 or 2), the
// epipolar line a*x + b*y + c = 0 in the other image, normalized so a^2 + b^2 = 1.
func ComputeCorrespondEpilines(pts []r2.Point, whichImage int, f mat.Matrix) ([]r3.Vector, error) {
	var m mat.Matrix
	switch whichImage {
	case 1:
		m = f
	case 2:
		m = f.T()
	default:
		return nil, errors.Errorf("whichImage must be 1 or 2, got %d", whichImage)
	}
	lines := make([]r3.Vector, len(pts))
	for i, p := range pts {
		l := r3.Vector{
			X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2),
			Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2),
			Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2),
		}
		n := math.Hypot(l.X, l.Y)
		if n > 0 {
			l = l.Mul(1 / n)
		}
		lines[i] = l
	}
	return lines, nil
}

// PointLineDistance is |a*x + b*y + c| for a normalized line.
func PointLineDistance(p r2.Point, line r3.Vector) float64 {
	return math.Abs(p.X*line.X + p.Y*line.Y + line.Z)
}

// ComputeFundamentalMatrixAllPoints compute the fundamental matrix from all points.
func ComputeFundamentalMatrixAllPoints(pts1, pts2 []r2.Point, normalize bool) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 8 {
		return nil, errors.New("sets of points must have at least 8 elements")
	}
	nPoints := len(pts1)

	var points1, points2 []r2.Point
	var T1, T2 *mat.Dense
	if normalize {
		points1, T1 = normalizePoints(pts1)
		points2, T2 = normalizePoints(pts2)
	} else {
		points1 = append([]r2.Point(nil), pts1...)
		points2 = append([]r2.Point(nil), pts2...)
		T1 = eye(3)
		T2 = eye(3)
	}

	m := mat.NewDense(nPoints, 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}
	fData, err := nullVector(m)
	if err != nil {
		return nil, err
	}
	F := mat.NewDense(3, 3, fData)

	// enforce rank 2 of F
	mats := performSVD(F)
	if mats == nil {
		return nil, errors.New("svd factorization failed")
	}
	S := mats.S
	S.Set(2, 2, 0)
	Fhat := mat.NewDense(3, 3, nil)
	Fhat.Mul(mats.U, S)
	F.Mul(Fhat, mats.VT)

	// undo the normalization: T2^T @ F @ T1
	F.Mul(transposeDense(T2), F)
	F.Mul(F, T1)
	if s := F.At(2, 2); math.Abs(s) > 1e-12 {
		F.Scale(1/s, F)
	}
	return F, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T
}

// mat.Dense utils.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma}
}
