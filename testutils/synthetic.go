// Package testutils renders synthetic scenes with known geometry for tests.
package testutils

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/transform"
)

// Board describes a printed chessboard: Width x Height inner corners, squares of Square units.
type Board struct {
	Width, Height int
	Square        float64
}

// Corners returns the board-frame inner corners in row-major order: (col*s, row*s, 0).
func (b Board) Corners() []r3.Vector {
	pts := make([]r3.Vector, 0, b.Width*b.Height)
	for r := 0; r < b.Height; r++ {
		for c := 0; c < b.Width; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * b.Square, Y: float64(r) * b.Square})
		}
	}
	return pts
}

// Center is the middle of the printed area in the board frame.
func (b Board) Center() r3.Vector {
	return r3.Vector{X: float64(b.Width-1) * b.Square / 2, Y: float64(b.Height-1) * b.Square / 2}
}

// shade is the board intensity at board-frame point (x, y), or the background outside.
func (b Board) shade(x, y float64) float64 {
	const (
		dark       = 30.
		light      = 225.
		background = 200.
	)
	fx, fy := math.Floor(x/b.Square), math.Floor(y/b.Square)
	if fx < -1 || fy < -1 || fx > float64(b.Width-1) || fy > float64(b.Height-1) {
		return background
	}
	if (int(fx)+int(fy))%2 == 0 {
		return dark
	}
	return light
}

// Project returns the image positions of the inner corners seen by model from pose.
func (b Board) Project(model *transform.PinholeCameraModel, pose *transform.CamPose) []r2.Point {
	corners := b.Corners()
	out := make([]r2.Point, len(corners))
	for i, p := range corners {
		out[i], _ = model.ProjectPoint(pose.Apply(p))
	}
	return out
}

// Render draws the board as seen by model from pose on a blank image of the given size. Each
// pixel averages 3x3 sub-samples; pixel centers are at integer coordinates.
func (b Board) Render(model *transform.PinholeCameraModel, pose *transform.CamPose, width, height int) *rimage.GrayImage {
	img := rimage.NewGrayImage(width, height)
	// plane point p = (x, y, 1) maps to the camera ray [r1 r2 t] p
	hn := mat.NewDense(3, 3, []float64{
		pose.Rotation.At(0, 0), pose.Rotation.At(0, 1), pose.Translation.X,
		pose.Rotation.At(1, 0), pose.Rotation.At(1, 1), pose.Translation.Y,
		pose.Rotation.At(2, 0), pose.Rotation.At(2, 1), pose.Translation.Z,
	})
	var inv mat.Dense
	if err := inv.Inverse(hn); err != nil {
		return img
	}
	const sub = 3
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := 0.
			for sy := 0; sy < sub; sy++ {
				for sx := 0; sx < sub; sx++ {
					px := float64(x) + (float64(sx)+0.5)/sub - 0.5
					py := float64(y) + (float64(sy)+0.5)/sub - 0.5
					n := model.UndistortPixel(r2.Point{X: px, Y: py}, nil)
					w := inv.At(2, 0)*n.X + inv.At(2, 1)*n.Y + inv.At(2, 2)
					bx := (inv.At(0, 0)*n.X + inv.At(0, 1)*n.Y + inv.At(0, 2)) / w
					by := (inv.At(1, 0)*n.X + inv.At(1, 1)*n.Y + inv.At(1, 2)) / w
					sum += b.shade(bx, by)
				}
			}
			img.Set(x, y, uint8(math.Round(sum/(sub*sub))))
		}
	}
	return img
}

// Rig is a synthetic stereo pair: camera 2 sees p2 = R p1 + T.
type Rig struct {
	Left, Right *transform.PinholeCameraModel
	Relative    *transform.CamPose
	Width       int
	Height      int
}

// NewRig returns a small horizontal rig with a 6 cm baseline and slightly different cameras.
func NewRig(d1, d2 *transform.BrownConrady) *Rig {
	return &Rig{
		Left: &transform.PinholeCameraModel{
			PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
				Width: 320, Height: 240, Fx: 300, Fy: 300, Ppx: 161.5, Ppy: 119.2,
			},
			Distortion: d1,
		},
		Right: &transform.PinholeCameraModel{
			PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
				Width: 320, Height: 240, Fx: 305, Fy: 305, Ppx: 158.7, Ppy: 121.4,
			},
			Distortion: d2,
		},
		Relative: transform.NewCamPose(r3.Vector{X: 0.004, Y: -0.01, Z: 0.003}, r3.Vector{X: -0.06, Y: 0.001, Z: 0.0005}),
		Width:    320,
		Height:   240,
	}
}

// BoardPoses returns n distinct views of b that stay in front of both cameras of a rig with
// a 6 cm baseline, the board centered between the two cameras.
func BoardPoses(b Board, n int) []*transform.CamPose {
	rotations := []r3.Vector{
		{X: 0.25, Y: -0.2, Z: 0.02},
		{X: -0.22, Y: 0.25, Z: -0.03},
		{X: 0.1, Y: 0.3, Z: 0.05},
		{X: -0.3, Y: -0.1, Z: 0},
		{X: 0.18, Y: 0.12, Z: -0.06},
		{X: -0.08, Y: -0.28, Z: 0.04},
		{X: 0.3, Y: 0.05, Z: 0.01},
		{X: -0.15, Y: 0.2, Z: 0.08},
	}
	center := b.Center()
	poses := make([]*transform.CamPose, 0, n)
	for i := 0; i < n; i++ {
		rvec := rotations[i%len(rotations)]
		rot := transform.RodriguesToRotation(rvec)
		depth := 0.5 + 0.03*float64(i%4)
		target := r3.Vector{X: 0.03, Y: 0.005 * float64(i%3-1), Z: depth}
		// place the rotated board center on target
		t := target.Sub(transform.RotateVector(rot, center))
		poses = append(poses, &transform.CamPose{Rotation: rot, Translation: t})
	}
	return poses
}

// RandomTexturePair returns a left/right pair of a fronto-parallel random texture with a
// constant disparity: left(x, y) = right(x - disparity, y).
func RandomTexturePair(width, height, disparity int, seed int64) (*rimage.GrayImage, *rimage.GrayImage) {
	rnd := rand.New(rand.NewSource(seed))
	texW := width + disparity
	tex := make([]uint8, texW*height)
	for i := range tex {
		tex[i] = uint8(rnd.Intn(256))
	}
	left := rimage.NewGrayImage(width, height)
	right := rimage.NewGrayImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			right.Set(x, y, tex[y*texW+x+disparity])
			left.Set(x, y, tex[y*texW+x])
		}
	}
	return left, right
}
