// Package calibration jointly calibrates the two cameras of a stereo rig from chessboard views.
package calibration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/detection/chessboard"
)

// ErrInsufficientPairs is returned when fewer than two image pairs can be used.
var ErrInsufficientPairs = errors.New("too few pairs to run the calibration")

// MinPairs is the smallest number of accepted pairs a calibration runs on.
const MinPairs = 2

// ObjectPoints returns the board-frame inner corners of the pattern in the row-major order of
// a CornerSet: (col*squareSize, row*squareSize, 0).
func ObjectPoints(pattern chessboard.Pattern, squareSize float64) []r3.Vector {
	pts := make([]r3.Vector, 0, pattern.Count())
	for r := 0; r < pattern.Height; r++ {
		for c := 0; c < pattern.Width; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * squareSize, Y: float64(r) * squareSize})
		}
	}
	return pts
}

// ImagePair is one view of the board taken by both cameras.
type ImagePair struct {
	Left, Right         *rimage.GrayImage
	LeftPath, RightPath string
}

// Validate checks both images exist and share a size.
func (p ImagePair) Validate() error {
	if p.Left.Empty() || p.Right.Empty() {
		return errors.Wrapf(rimage.ErrSizeMismatch, "empty image in pair (%q, %q)", p.LeftPath, p.RightPath)
	}
	return errors.Wrapf(p.Left.SameSize(p.Right), "pair (%q, %q)", p.LeftPath, p.RightPath)
}

// PairObservation holds the corners found in both images of an accepted pair.
type PairObservation struct {
	Left, Right chessboard.CornerSet
}

// validateObservations checks every pair holds count corners per image.
func validateObservations(obs []PairObservation, count int) error {
	if len(obs) < MinPairs {
		return errors.Wrapf(ErrInsufficientPairs, "got %d pairs, need at least %d", len(obs), MinPairs)
	}
	for i, o := range obs {
		if len(o.Left) != count || len(o.Right) != count {
			return errors.Errorf("pair %d has %d/%d corners, expected %d", i, len(o.Left), len(o.Right), count)
		}
	}
	return nil
}
