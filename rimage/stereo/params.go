// Package stereo computes disparity maps from rectified image pairs with block matching or
// semi-global matching.
package stereo

import (
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
)

var (
	// ErrUnknownAlgorithm is returned for algorithm names that are not supported.
	ErrUnknownAlgorithm = errors.New("unknown stereo algorithm")
	// ErrInvalidParams is returned when matcher parameters are out of range.
	ErrInvalidParams = errors.New("invalid stereo parameters")
	// ErrSizeMismatch is returned when the two images of a pair differ in size.
	ErrSizeMismatch = rimage.ErrSizeMismatch
)

// Algorithm names a disparity strategy.
type Algorithm string

// The supported algorithms.
const (
	AlgorithmBM       Algorithm = "bm"
	AlgorithmSGBM     Algorithm = "sgbm"
	AlgorithmHH       Algorithm = "hh"
	AlgorithmSGBM3Way Algorithm = "sgbm3way"
)

// Algorithms lists the supported algorithms.
var Algorithms = []Algorithm{AlgorithmBM, AlgorithmSGBM, AlgorithmHH, AlgorithmSGBM3Way}

// ParseAlgorithm resolves a case insensitive algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Algorithms {
		if alg == known {
			return alg, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownAlgorithm, "%q, expected one of %v", name, Algorithms)
}

// IsSemiGlobal reports whether the algorithm aggregates costs along paths.
func (a Algorithm) IsSemiGlobal() bool {
	return a == AlgorithmSGBM || a == AlgorithmHH || a == AlgorithmSGBM3Way
}

// Params tunes a matcher. Disparities are searched in [MinDisparity, MinDisparity+NumDisparities).
type Params struct {
	MinDisparity      int `json:"min_disparity"`
	NumDisparities    int `json:"num_disparities"`
	BlockSize         int `json:"block_size"`
	PreFilterCap      int `json:"pre_filter_cap"`
	TextureThreshold  int `json:"texture_threshold"`
	UniquenessRatio   int `json:"uniqueness_ratio"`
	SpeckleWindowSize int `json:"speckle_window_size"`
	SpeckleRange      int `json:"speckle_range"`
	// Disp12MaxDiff is the largest left-right disagreement in pixels; negative disables the check.
	Disp12MaxDiff int `json:"disp12_max_diff"`
	// P1 and P2 penalize disparity changes of one and of more than one between neighbors.
	P1 int `json:"p1"`
	P2 int `json:"p2"`
	// ROI1 and ROI2 are the valid regions of the rectified images; empty means the whole image.
	ROI1 image.Rectangle `json:"-"`
	ROI2 image.Rectangle `json:"-"`
}

// DefaultParams returns the tuning used for live matching. A blockSize <= 0 picks the
// algorithm's default; channels is the number of color channels of the input.
func DefaultParams(alg Algorithm, numDisparities, blockSize, channels int) Params {
	if channels <= 0 {
		channels = 1
	}
	if alg == AlgorithmBM {
		if blockSize <= 0 {
			blockSize = 9
		}
		return Params{
			NumDisparities:    numDisparities,
			BlockSize:         blockSize,
			PreFilterCap:      31,
			TextureThreshold:  10,
			UniquenessRatio:   15,
			SpeckleWindowSize: 100,
			SpeckleRange:      32,
			Disp12MaxDiff:     1,
		}
	}
	if blockSize <= 0 {
		blockSize = 3
	}
	return Params{
		NumDisparities:    numDisparities,
		BlockSize:         blockSize,
		PreFilterCap:      63,
		UniquenessRatio:   10,
		SpeckleWindowSize: 50,
		SpeckleRange:      32,
		Disp12MaxDiff:     1,
		P1:                8 * channels * blockSize * blockSize,
		P2:                32 * channels * blockSize * blockSize,
	}
}

// AutoNumDisparities is the search range used when none is configured: ((width/8)+15) & -16.
func AutoNumDisparities(width int) int {
	return ((width / 8) + 15) &^ 15
}

func invalidParam(field string, value interface{}, accepted string) error {
	return errors.Wrap(ErrInvalidParams, fmt.Sprintf("%s is %v but must be %s", field, value, accepted))
}

// Validate checks the parameters for use with alg.
func (p Params) Validate(alg Algorithm) error {
	if p.NumDisparities <= 0 || p.NumDisparities%16 != 0 {
		return invalidParam("num_disparities", p.NumDisparities, "a positive multiple of 16")
	}
	if alg.IsSemiGlobal() {
		if p.BlockSize < 1 || p.BlockSize > 11 || p.BlockSize%2 == 0 {
			return invalidParam("block_size", p.BlockSize, "odd within [1, 11]")
		}
		if p.P1 < 0 || p.P2 <= p.P1 {
			return invalidParam("p1/p2", fmt.Sprintf("%d/%d", p.P1, p.P2), "0 <= p1 < p2")
		}
	} else {
		if p.BlockSize < 5 || p.BlockSize > 255 || p.BlockSize%2 == 0 {
			return invalidParam("block_size", p.BlockSize, "odd within [5, 255]")
		}
		if p.TextureThreshold < 0 {
			return invalidParam("texture_threshold", p.TextureThreshold, ">= 0")
		}
	}
	if p.PreFilterCap < 1 || p.PreFilterCap > 63 {
		return invalidParam("pre_filter_cap", p.PreFilterCap, "within [1, 63]")
	}
	if p.UniquenessRatio < 0 {
		return invalidParam("uniqueness_ratio", p.UniquenessRatio, ">= 0")
	}
	if p.SpeckleWindowSize < 0 || p.SpeckleRange < 0 {
		return invalidParam("speckle", fmt.Sprintf("%d/%d", p.SpeckleWindowSize, p.SpeckleRange), "non-negative")
	}
	return nil
}

// ValidDisparityROI returns the part of the left image where a full search can be made, given
// the valid regions of both rectified images.
func ValidDisparityROI(roi1, roi2 image.Rectangle, minDisparity, numDisparities, blockSize int) image.Rectangle {
	half := blockSize / 2
	maxD := minDisparity + numDisparities - 1
	x0 := max(roi1.Min.X, roi2.Min.X+maxD) + half
	y0 := max(roi1.Min.Y, roi2.Min.Y) + half
	x1 := min(roi1.Max.X, roi2.Max.X+minDisparity) - half
	y1 := min(roi1.Max.Y, roi2.Max.Y) - half
	if x0 >= x1 || y0 >= y1 {
		return image.Rectangle{}
	}
	return image.Rect(x0, y0, x1, y1)
}
