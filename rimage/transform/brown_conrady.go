package transform

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/stereo/utils"
)

// NumDistortionParameters is the length of a full distortion vector: k1 k2 p1 p2 k3 k4 k5 k6.
const NumDistortionParameters = 8

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// BrownConrady is the radial/tangential lens model with the optional rational radial
// denominator (k4, k5, k6). A nil model is the identity.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RadialK3     float64 `json:"rk3"`
	RadialK4     float64 `json:"rk4"`
	RadialK5     float64 `json:"rk5"`
	RadialK6     float64 `json:"rk6"`
}

// NewBrownConrady takes coefficients in the k1 k2 p1 p2 k3 k4 k5 k6 order. Missing trailing
// values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > NumDistortionParameters {
		return nil, errors.Errorf("list of parameters too long, expected max %d, got %d", NumDistortionParameters, len(inp))
	}
	full := make([]float64, NumDistortionParameters)
	copy(full, inp)
	if !utils.IsFinite(full...) {
		return nil, InvalidDistortionError("coefficients must be finite")
	}
	return &BrownConrady{full[0], full[1], full[2], full[3], full[4], full[5], full[6], full[7]}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	if !utils.IsFinite(bc.Parameters()...) {
		return InvalidDistortionError("coefficients must be finite")
	}
	return nil
}

// Parameters returns the coefficients in the k1 k2 p1 p2 k3 k4 k5 k6 order.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return make([]float64, NumDistortionParameters)
	}
	return []float64{
		bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2,
		bc.RadialK3, bc.RadialK4, bc.RadialK5, bc.RadialK6,
	}
}

// Transform distorts a point on the normalized image plane.
//
//	r² = x² + y²
//	radial = (1 + k1 r² + k2 r⁴ + k3 r⁶) / (1 + k4 r² + k5 r⁴ + k6 r⁶)
//	x_d = x radial + 2 p1 x y + p2 (r² + 2 x²)
//	y_d = y radial + p1 (r² + 2 y²) + 2 p2 x y
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	den := 1 + bc.RadialK4*r2 + bc.RadialK5*r4 + bc.RadialK6*r6
	radial := num
	if den != 0 {
		radial = num / den
	}
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// Undistort inverts Transform with Newton-Raphson iterations, starting from the distorted
// point. The 2x2 Jacobian is taken by central differences.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}
	const (
		maxIterations = 20
		tolerance     = 1e-12
		step          = 1e-7
	)
	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		xe, ye := bc.Transform(xu, yu)
		errX, errY := xe-xd, ye-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}
		xp, yp := bc.Transform(xu+step, yu)
		xm, ym := bc.Transform(xu-step, yu)
		dxdXu, dydXu := (xp-xm)/(2*step), (yp-ym)/(2*step)
		xp, yp = bc.Transform(xu, yu+step)
		xm, ym = bc.Transform(xu, yu-step)
		dxdYu, dydYu := (xp-xm)/(2*step), (yp-ym)/(2*step)

		det := dxdXu*dydYu - dxdYu*dydXu
		if det == 0 || math.IsNaN(det) {
			break
		}
		xu -= (dydYu*errX - dxdYu*errY) / det
		yu -= (-dydXu*errX + dxdXu*errY) / det
	}
	return xu, yu
}
