package transform

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// CamPose is a rigid transform taking points from a reference frame into a camera frame:
// p_cam = Rotation * p + Translation.
type CamPose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewCamPose builds a pose from an axis-angle rotation and a translation.
func NewCamPose(rvec, t r3.Vector) *CamPose {
	return &CamPose{Rotation: RodriguesToRotation(rvec), Translation: t}
}

// Apply maps a point into the camera frame.
func (cp *CamPose) Apply(p r3.Vector) r3.Vector {
	return RotateVector(cp.Rotation, p).Add(cp.Translation)
}

// Rodrigues returns the axis-angle form of the rotation.
func (cp *CamPose) Rodrigues() r3.Vector {
	return RotationToRodrigues(cp.Rotation)
}

// Compose returns the pose equivalent to applying cp first and then other.
func (cp *CamPose) Compose(other *CamPose) *CamPose {
	var rot mat.Dense
	rot.Mul(other.Rotation, cp.Rotation)
	return &CamPose{Rotation: &rot, Translation: RotateVector(other.Rotation, cp.Translation).Add(other.Translation)}
}

// RelativeTo returns the pose taking points from the frame of `from` into the frame of cp, for
// two poses that share a reference frame.
func (cp *CamPose) RelativeTo(from *CamPose) *CamPose {
	var rot mat.Dense
	rot.Mul(cp.Rotation, from.Rotation.T())
	t := cp.Translation.Sub(RotateVector(&rot, from.Translation))
	return &CamPose{Rotation: &rot, Translation: t}
}

// PoseFromHomography recovers the pose of the z=0 plane that induced homography h, given the
// camera matrix. The plane is placed in front of the camera.
func PoseFromHomography(k *PinholeCameraIntrinsics, h mat.Matrix) *CamPose {
	var m mat.Dense
	m.Mul(k.InverseMatrix(), h)
	h1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	h2 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	h3 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}

	lambda := 2 / (h1.Norm() + h2.Norm())
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2 := h2.Mul(lambda)
	r3v := r1.Cross(r2)
	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	return &CamPose{Rotation: NearestRotation(rot), Translation: h3.Mul(lambda)}
}
