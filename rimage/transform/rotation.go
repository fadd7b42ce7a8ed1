package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RodriguesToRotation converts an axis-angle vector to a 3x3 rotation matrix.
func RodriguesToRotation(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		// first order: I + [r]x
		return mat.NewDense(3, 3, []float64{
			1, -rvec.Z, rvec.Y,
			rvec.Z, 1, -rvec.X,
			-rvec.Y, rvec.X, 1,
		})
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + t*k.X*k.X, t*k.X*k.Y - s*k.Z, t*k.X*k.Z + s*k.Y,
		t*k.X*k.Y + s*k.Z, c + t*k.Y*k.Y, t*k.Y*k.Z - s*k.X,
		t*k.X*k.Z - s*k.Y, t*k.Y*k.Z + s*k.X, c + t*k.Z*k.Z,
	})
}

// RotationToRodrigues converts a rotation matrix to its axis-angle vector. The input is first
// projected onto the closest rotation.
func RotationToRodrigues(rot mat.Matrix) r3.Vector {
	r := NearestRotation(rot)
	rx := r.At(2, 1) - r.At(1, 2)
	ry := r.At(0, 2) - r.At(2, 0)
	rz := r.At(1, 0) - r.At(0, 1)
	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := (r.At(0, 0) + r.At(1, 1) + r.At(2, 2) - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s < 1e-5 {
		if c > 0 {
			return r3.Vector{}
		}
		// theta close to pi: the axis comes from the diagonal of (R + I) / 2
		ax := math.Sqrt(math.Max((r.At(0, 0)+1)*0.5, 0))
		ay := math.Sqrt(math.Max((r.At(1, 1)+1)*0.5, 0))
		az := math.Sqrt(math.Max((r.At(2, 2)+1)*0.5, 0))
		if r.At(0, 1) < 0 {
			ay = -ay
		}
		if r.At(0, 2) < 0 {
			az = -az
		}
		if math.Abs(ax) < math.Abs(ay) && math.Abs(ax) < math.Abs(az) && (r.At(1, 2) > 0) != (ay*az > 0) {
			az = -az
		}
		axis := r3.Vector{X: ax, Y: ay, Z: az}
		return axis.Mul(theta / axis.Norm())
	}
	vth := 1 / (2 * s) * theta
	return r3.Vector{X: rx * vth, Y: ry * vth, Z: rz * vth}
}

// NearestRotation returns the rotation closest to m in the Frobenius sense, U V^T from the SVD
// of m with the determinant forced to +1.
func NearestRotation(m mat.Matrix) *mat.Dense {
	mats := performSVD(mat.DenseCopyOf(m))
	if mats == nil {
		return eye(3)
	}
	var r mat.Dense
	r.Mul(mats.U, mats.VT)
	if mat.Det(&r) < 0 {
		fix := eye(3)
		fix.Set(2, 2, -1)
		r.Mul(mats.U, fix)
		r.Mul(&r, mats.VT)
	}
	return &r
}

// RotateVector returns rot * v.
func RotateVector(rot mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(0, 1)*v.Y + rot.At(0, 2)*v.Z,
		Y: rot.At(1, 0)*v.X + rot.At(1, 1)*v.Y + rot.At(1, 2)*v.Z,
		Z: rot.At(2, 0)*v.X + rot.At(2, 1)*v.Y + rot.At(2, 2)*v.Z,
	}
}

// VectorToDense returns v as a 3x1 column.
func VectorToDense(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 1, []float64{v.X, v.Y, v.Z})
}

// DenseToVector reads a 3x1 or 1x3 matrix into a vector.
func DenseToVector(m mat.Matrix) r3.Vector {
	r, _ := m.Dims()
	if r == 1 {
		return r3.Vector{X: m.At(0, 0), Y: m.At(0, 1), Z: m.At(0, 2)}
	}
	return r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
}
