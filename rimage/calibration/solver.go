package calibration

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/detection/chessboard"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// SolverConfig holds the board geometry and the constraints of the joint refinement.
type SolverConfig struct {
	Pattern    chessboard.Pattern `json:"pattern"`
	SquareSize float64            `json:"square_size"`

	FixAspectRatio    bool `json:"fix_aspect_ratio"`
	ZeroTangentDist   bool `json:"zero_tangent_dist"`
	SameFocalLength   bool `json:"same_focal_length"`
	FixPrincipalPoint bool `json:"fix_principal_point"`
	// RadialTerms is how many of k1, k2, k3 are refined.
	RadialTerms int `json:"radial_terms"`
	// RationalModel refines the denominator terms k4, k5, k6 that are not fixed below.
	RationalModel bool `json:"rational_model"`
	FixK4         bool `json:"fix_k4"`
	FixK5         bool `json:"fix_k5"`
	FixK6         bool `json:"fix_k6"`

	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
}

// DefaultSolverConfig returns the constraints used for hand held calibration boards: square
// pixels, no tangential distortion, one focal length for both cameras, and a rational radial
// model with k1, k2 in the numerator and k6 in the denominator.
func DefaultSolverConfig(pattern chessboard.Pattern, squareSize float64) SolverConfig {
	return SolverConfig{
		Pattern:         pattern,
		SquareSize:      squareSize,
		FixAspectRatio:  true,
		ZeroTangentDist: true,
		SameFocalLength: true,
		RadialTerms:     2,
		RationalModel:   true,
		FixK4:           true,
		FixK5:           true,
		MaxIterations:   100,
		Epsilon:         1e-5,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *SolverConfig) Validate(path string) error {
	if cfg.Pattern.Width < 3 || cfg.Pattern.Height < 3 {
		return utils.NewOutOfRangeError(path+".pattern", cfg.Pattern.String(), "at least 3x3")
	}
	if cfg.SquareSize <= 0 || !utils.IsFinite(cfg.SquareSize) {
		return utils.NewOutOfRangeError(path+".square_size", cfg.SquareSize, "> 0")
	}
	if cfg.RadialTerms < 0 || cfg.RadialTerms > 3 {
		return utils.NewOutOfRangeError(path+".radial_terms", cfg.RadialTerms, "[0, 3]")
	}
	if cfg.MaxIterations < 1 {
		return utils.NewOutOfRangeError(path+".max_iterations", cfg.MaxIterations, ">= 1")
	}
	if cfg.Epsilon <= 0 {
		return utils.NewOutOfRangeError(path+".epsilon", cfg.Epsilon, "> 0")
	}
	return nil
}

// parameter layout: 12 per camera (fx fy cx cy k1 k2 p1 p2 k3 k4 k5 k6), the relative pose
// (rvec, t), then one camera 1 pose (rvec, t) per view.
const (
	camParams   = 12
	poseParams  = 6
	relOffset   = 2 * camParams
	viewOffset  = relOffset + poseParams
	localParams = viewOffset + poseParams
)

const (
	iFx = iota
	iFy
	iCx
	iCy
	iK1
	iK2
	iP1
	iP2
	iK3
	iK4
	iK5
	iK6
)

// Solver refines a stereo calibration with Levenberg-Marquardt.
type Solver struct {
	cfg    SolverConfig
	logger logging.Logger
}

// NewSolver validates cfg and returns a solver.
func NewSolver(cfg SolverConfig, logger logging.Logger) (*Solver, error) {
	if err := cfg.Validate("solver"); err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg, logger: logger}, nil
}

// problem is one joint refinement.
type problem struct {
	cfg     SolverConfig
	objects []r3.Vector
	obs     []PairObservation
	aspect  [2]float64
	free    []bool
}

// applyTies rewrites the parameters that are functions of other parameters.
func (pb *problem) applyTies(p []float64) {
	for c := 0; c < 2; c++ {
		if pb.cfg.FixAspectRatio {
			p[c*camParams+iFy] = p[c*camParams+iFx] * pb.aspect[c]
		}
	}
	if pb.cfg.SameFocalLength {
		p[camParams+iFx] = p[iFx]
		p[camParams+iFy] = p[iFy]
	}
}

// freeMask marks the parameters the optimizer moves.
func (pb *problem) freeMask(views int) []bool {
	free := make([]bool, viewOffset+poseParams*views)
	for i := range free {
		free[i] = true
	}
	for c := 0; c < 2; c++ {
		base := c * camParams
		if pb.cfg.FixAspectRatio {
			free[base+iFy] = false
		}
		if pb.cfg.FixPrincipalPoint {
			free[base+iCx] = false
			free[base+iCy] = false
		}
		if pb.cfg.ZeroTangentDist {
			free[base+iP1] = false
			free[base+iP2] = false
		}
		for k, idx := range []int{iK1, iK2, iK3} {
			free[base+idx] = k < pb.cfg.RadialTerms
		}
		fixed := [3]bool{pb.cfg.FixK4, pb.cfg.FixK5, pb.cfg.FixK6}
		for k, idx := range []int{iK4, iK5, iK6} {
			free[base+idx] = pb.cfg.RationalModel && !fixed[k]
		}
	}
	if pb.cfg.SameFocalLength {
		free[camParams+iFx] = false
		free[camParams+iFy] = false
	}
	return free
}

// projectWith maps a camera frame point to pixels with the 12 camera parameters in cam.
func projectWith(cam []float64, p r3.Vector) r2.Point {
	bc := transform.BrownConrady{
		RadialK1: cam[iK1], RadialK2: cam[iK2], TangentialP1: cam[iP1], TangentialP2: cam[iP2],
		RadialK3: cam[iK3], RadialK4: cam[iK4], RadialK5: cam[iK5], RadialK6: cam[iK6],
	}
	x, y := bc.Transform(p.X/p.Z, p.Y/p.Z)
	return r2.Point{X: cam[iFx]*x + cam[iCx], Y: cam[iFy]*y + cam[iCy]}
}

func vecAt(p []float64, offset int) r3.Vector {
	return r3.Vector{X: p[offset], Y: p[offset+1], Z: p[offset+2]}
}

// viewResiduals writes the reprojection residuals of one view, left then right per corner,
// from a local parameter vector (both cameras, relative pose, view pose).
func (pb *problem) viewResiduals(dst, local []float64, view int) {
	p := make([]float64, len(local))
	copy(p, local)
	pb.applyTies(p)
	pose := transform.NewCamPose(vecAt(p, viewOffset), vecAt(p, viewOffset+3))
	rel := transform.NewCamPose(vecAt(p, relOffset), vecAt(p, relOffset+3))
	o := pb.obs[view]
	for j, obj := range pb.objects {
		pc1 := pose.Apply(obj)
		pc2 := rel.Apply(pc1)
		u1 := projectWith(p[:camParams], pc1)
		u2 := projectWith(p[camParams:2*camParams], pc2)
		dst[4*j] = u1.X - o.Left[j].X
		dst[4*j+1] = u1.Y - o.Left[j].Y
		dst[4*j+2] = u2.X - o.Right[j].X
		dst[4*j+3] = u2.Y - o.Right[j].Y
	}
}

// local gathers the parameters one view depends on.
func local(p []float64, view int) []float64 {
	out := make([]float64, localParams)
	copy(out, p[:viewOffset])
	copy(out[viewOffset:], p[viewOffset+poseParams*view:viewOffset+poseParams*(view+1)])
	return out
}

// globalIndex maps a local parameter index of a view to its index in the full vector.
func globalIndex(k, view int) int {
	if k < viewOffset {
		return k
	}
	return viewOffset + poseParams*view + (k - viewOffset)
}

func (pb *problem) cost(p []float64) float64 {
	res := make([]float64, 4*len(pb.objects))
	total := 0.
	for v := range pb.obs {
		pb.viewResiduals(res, local(p, v), v)
		total += floats.Dot(res, res)
	}
	return total
}

// normalEquations accumulates J^T J and J^T r over all views, using per view finite difference
// Jacobians.
func (pb *problem) normalEquations(p []float64) (*mat.Dense, []float64) {
	n := len(p)
	jtj := mat.NewDense(n, n, nil)
	jtr := make([]float64, n)
	m := 4 * len(pb.objects)
	jac := mat.NewDense(m, localParams, nil)
	res := make([]float64, m)
	for v := range pb.obs {
		x := local(p, v)
		pb.viewResiduals(res, x, v)
		fd.Jacobian(jac, func(y, x []float64) { pb.viewResiduals(y, x, v) }, x, &fd.JacobianSettings{
			Formula:     fd.Central,
			OriginValue: res,
		})
		for a := 0; a < localParams; a++ {
			ga := globalIndex(a, v)
			colA := mat.Col(nil, a, jac)
			jtr[ga] += floats.Dot(colA, res)
			for b := a; b < localParams; b++ {
				gb := globalIndex(b, v)
				var s float64
				for i := 0; i < m; i++ {
					s += colA[i] * jac.At(i, b)
				}
				jtj.Set(ga, gb, jtj.At(ga, gb)+s)
				if ga != gb {
					jtj.Set(gb, ga, jtj.At(gb, ga)+s)
				}
			}
		}
	}
	return jtj, jtr
}

// Calibrate estimates both cameras and their relative pose from the corner observations of
// at least two pairs of images of the given size.
func (s *Solver) Calibrate(ctx context.Context, obs []PairObservation, size image.Point) (*Result, error) {
	if err := validateObservations(obs, s.cfg.Pattern.Count()); err != nil {
		return nil, err
	}
	objects := ObjectPoints(s.cfg.Pattern, s.cfg.SquareSize)
	pb := &problem{cfg: s.cfg, objects: objects, obs: obs}

	p, err := s.initialGuess(pb, size)
	if err != nil {
		return nil, err
	}
	pb.free = pb.freeMask(len(obs))
	p, cost, err := s.levenbergMarquardt(ctx, pb, p)
	if err != nil {
		return nil, err
	}

	cams := [2]*transform.PinholeCameraIntrinsics{}
	dists := [2]*transform.BrownConrady{}
	for c := 0; c < 2; c++ {
		cam := p[c*camParams : (c+1)*camParams]
		cams[c] = &transform.PinholeCameraIntrinsics{
			Width: size.X, Height: size.Y,
			Fx: cam[iFx], Fy: cam[iFy], Ppx: cam[iCx], Ppy: cam[iCy],
		}
		if dists[c], err = transform.NewBrownConrady(cam[iK1:]); err != nil {
			return nil, err
		}
	}
	rel := transform.NewCamPose(vecAt(p, relOffset), vecAt(p, relOffset+3))
	res, err := NewResult(uuid.NewString(), size, cams[0], cams[1], dists[0], dists[1], rel.Rotation, rel.Translation)
	if err != nil {
		return nil, errors.Wrap(err, "calibration diverged")
	}
	res.rms = math.Sqrt(cost / float64(2*len(obs)*len(objects)))
	res.pairs = len(obs)
	s.logger.Infow("stereo calibration done", "rms", res.rms, "pairs", len(obs), "baseline", res.Baseline())
	return res, nil
}

// initialGuess seeds both cameras in closed form, each view pose from its homography and the
// relative pose from the median over views.
func (s *Solver) initialGuess(pb *problem, size image.Point) ([]float64, error) {
	views := len(pb.obs)
	p := make([]float64, viewOffset+poseParams*views)

	var k [2]*transform.PinholeCameraIntrinsics
	for c := 0; c < 2; c++ {
		pts := make([][]r2.Point, views)
		for v, o := range pb.obs {
			if c == 0 {
				pts[v] = o.Left
			} else {
				pts[v] = o.Right
			}
		}
		var err error
		if k[c], err = InitCameraMatrix(pb.objects, pts, size); err != nil {
			return nil, errors.Wrapf(err, "camera %d", c+1)
		}
	}
	if s.cfg.SameFocalLength {
		fx := (k[0].Fx + k[1].Fx) / 2
		fy := (k[0].Fy + k[1].Fy) / 2
		k[0].Fx, k[1].Fx, k[0].Fy, k[1].Fy = fx, fx, fy, fy
	}
	for c := 0; c < 2; c++ {
		if s.cfg.FixAspectRatio {
			f := (k[c].Fx + k[c].Fy) / 2
			k[c].Fx, k[c].Fy = f, f
		}
		pb.aspect[c] = k[c].Fy / k[c].Fx
		base := c * camParams
		p[base+iFx], p[base+iFy], p[base+iCx], p[base+iCy] = k[c].Fx, k[c].Fy, k[c].Ppx, k[c].Ppy
	}

	var rx, ry, rz, tx, ty, tz []float64
	for v, o := range pb.obs {
		h1, err := planarHomography(pb.objects, o.Left)
		if err != nil {
			return nil, errors.Wrapf(err, "pair %d", v)
		}
		h2, err := planarHomography(pb.objects, o.Right)
		if err != nil {
			return nil, errors.Wrapf(err, "pair %d", v)
		}
		pose1 := transform.PoseFromHomography(k[0], h1)
		pose2 := transform.PoseFromHomography(k[1], h2)
		rvec := pose1.Rodrigues()
		off := viewOffset + poseParams*v
		copy(p[off:], []float64{rvec.X, rvec.Y, rvec.Z, pose1.Translation.X, pose1.Translation.Y, pose1.Translation.Z})

		rel := pose2.RelativeTo(pose1)
		rr := rel.Rodrigues()
		rx, ry, rz = append(rx, rr.X), append(ry, rr.Y), append(rz, rr.Z)
		tx, ty, tz = append(tx, rel.Translation.X), append(ty, rel.Translation.Y), append(tz, rel.Translation.Z)
	}
	copy(p[relOffset:], []float64{
		utils.Median(rx...), utils.Median(ry...), utils.Median(rz...),
		utils.Median(tx...), utils.Median(ty...), utils.Median(tz...),
	})
	return p, nil
}

// levenbergMarquardt minimizes the total squared reprojection error over the free parameters.
func (s *Solver) levenbergMarquardt(ctx context.Context, pb *problem, p []float64) ([]float64, float64, error) {
	var freeIdx []int
	for i, f := range pb.free {
		if f {
			freeIdx = append(freeIdx, i)
		}
	}
	nf := len(freeIdx)
	pb.applyTies(p)
	cost := pb.cost(p)
	if !utils.IsFinite(cost) {
		return nil, 0, errors.New("initial guess does not project the board")
	}
	lambda := 1e-3

	for iter := 0; iter < s.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		jtj, jtr := pb.normalEquations(p)
		a := mat.NewSymDense(nf, nil)
		g := mat.NewVecDense(nf, nil)
		diag := make([]float64, nf)
		for r, gr := range freeIdx {
			g.SetVec(r, -jtr[gr])
			for c := r; c < nf; c++ {
				a.SetSym(r, c, jtj.At(gr, freeIdx[c]))
			}
			diag[r] = jtj.At(gr, gr)
			if diag[r] <= 0 {
				diag[r] = 1
			}
		}

		accepted := false
		var step, next []float64
		var newCost float64
		for !accepted && lambda < 1e16 {
			damped := mat.NewSymDense(nf, nil)
			damped.CopySym(a)
			for r := 0; r < nf; r++ {
				damped.SetSym(r, r, a.At(r, r)+lambda*diag[r])
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, g); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					return nil, 0, err
				}
			}
			step = delta.RawVector().Data
			next = make([]float64, len(p))
			copy(next, p)
			for r, gr := range freeIdx {
				next[gr] += step[r]
			}
			pb.applyTies(next)
			newCost = pb.cost(next)
			if utils.IsFinite(newCost) && newCost < cost {
				accepted = true
				lambda = math.Max(lambda/10, 1e-12)
			} else {
				lambda *= 10
			}
		}
		if !accepted {
			s.logger.Debugw("calibration converged, no step reduces the error", "iteration", iter, "cost", cost)
			break
		}

		relChange := (cost - newCost) / math.Max(cost, 1e-300)
		stepNorm := floats.Norm(step, 2)
		p, cost = next, newCost
		s.logger.Debugw("calibration iteration", "iteration", iter, "cost", cost, "lambda", lambda)
		if relChange < s.cfg.Epsilon || stepNorm < s.cfg.Epsilon*(floats.Norm(p, 2)+s.cfg.Epsilon) {
			break
		}
	}
	return p, cost, nil
}
