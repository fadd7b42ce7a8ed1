package stereo

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// A Matcher computes the disparity of every pixel of the left image of a rectified pair. The
// result uses rimage.DisparityScale fixed point; unmatched pixels hold the map's Invalid value.
type Matcher interface {
	Compute(ctx context.Context, left, right *rimage.GrayImage) (*rimage.DisparityMap, error)
	Algorithm() Algorithm
	Params() Params
}

// NewMatcher returns the strategy for alg after validating params.
func NewMatcher(alg Algorithm, params Params, logger logging.Logger) (Matcher, error) {
	if err := params.Validate(alg); err != nil {
		return nil, err
	}
	switch alg {
	case AlgorithmBM:
		return &BlockMatcher{params: params, logger: logger}, nil
	case AlgorithmSGBM:
		return &SemiGlobalMatcher{Mode: ModeSGBM, params: params, logger: logger}, nil
	case AlgorithmHH:
		return &SemiGlobalMatcher{Mode: ModeHH, params: params, logger: logger}, nil
	case AlgorithmSGBM3Way:
		return &SemiGlobalMatcher{Mode: Mode3Way, params: params, logger: logger}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "%q", alg)
	}
}

// checkPair validates the inputs shared by every matcher and returns the columns where all
// searched disparities stay inside the right image.
func checkPair(left, right *rimage.GrayImage, p Params) (int, int, error) {
	if left == nil || right == nil || left.Empty() || right.Empty() {
		return 0, 0, errors.Wrap(ErrSizeMismatch, "empty image")
	}
	if err := left.SameSize(right); err != nil {
		return 0, 0, err
	}
	if left.Height() <= p.BlockSize {
		return 0, 0, errors.Wrapf(ErrInvalidParams, "image height %d is too small for block size %d", left.Height(), p.BlockSize)
	}
	maxD := p.MinDisparity + p.NumDisparities - 1
	x0 := max(maxD, 0)
	x1 := left.Width() + min(p.MinDisparity, 0)
	if x1-x0 <= p.BlockSize {
		return 0, 0, errors.Wrapf(ErrInvalidParams, "image width %d is too small for disparities [%d, %d] with block size %d",
			left.Width(), p.MinDisparity, maxD, p.BlockSize)
	}
	return x0, x1, nil
}

// prefilterXSobel clips the horizontal Sobel response to [-cap, cap] and offsets it by cap.
func prefilterXSobel(img *rimage.GrayImage, limit int) []uint8 {
	sobel := rimage.SobelX(img)
	out := make([]uint8, len(sobel))
	for k, v := range sobel {
		out[k] = uint8(utils.Clamp(int(v), -limit, limit) + limit)
	}
	return out
}

// costValue is the integer type costs are accumulated in.
type costValue interface {
	~int32 | ~int64
}

// winner picks the disparity of minimal cost and refines it to fixed point. ok is false when
// the uniqueness test fails: another disparity more than one step away costs no more than
// (1 + ratio/100) times the minimum.
func winner[T costValue](costs []T, minDisparity, uniquenessRatio int) (best int, fixed int16, ok bool) {
	best = 0
	for d := 1; d < len(costs); d++ {
		if costs[d] < costs[best] {
			best = d
		}
	}
	minCost := int64(costs[best])
	if uniquenessRatio > 0 {
		limit := minCost * int64(100+uniquenessRatio)
		for d, c := range costs {
			if utils.AbsInt(d-best) > 1 && int64(c)*100 <= limit {
				return best, 0, false
			}
		}
	}
	value := float64(best)
	if best > 0 && best < len(costs)-1 {
		n, p := float64(costs[best-1]), float64(costs[best+1])
		denom := n + p - 2*float64(minCost)
		if denom > 0 {
			value += utils.Clamp((n-p)/(2*denom), -0.5, 0.5)
		}
	}
	fixed = int16(math.Round((value + float64(minDisparity)) * rimage.DisparityScale))
	return best, fixed, true
}

// noMatch marks pixels without a disparity in the integer bookkeeping of a row.
const noMatch = math.MinInt32

// newRightMatches returns empty per column bookkeeping for the right image of one row.
func newRightMatches(width int) ([]int, []int64) {
	best := make([]int, width)
	cost := make([]int64, width)
	for x := range best {
		best[x] = noMatch
		cost[x] = math.MaxInt64
	}
	return best, cost
}

// markRight records that left pixel x matched with disparity d at cost, keeping for every right
// pixel the cheapest left match.
func markRight(rightBest []int, rightCost []int64, x, d int, cost int64) {
	xr := x - d
	if xr < 0 || xr >= len(rightBest) {
		return
	}
	if cost < rightCost[xr] {
		rightCost[xr] = cost
		rightBest[xr] = d
	}
}

// leftRightCheck invalidates pixels of one row whose match, seen from the right image, picks a
// disparity more than maxDiff pixels away. A negative maxDiff disables the check.
func leftRightCheck(row []int16, bestDisp, rightBest []int, invalid int16, maxDiff int) {
	if maxDiff < 0 {
		return
	}
	for x, d := range bestDisp {
		if d == noMatch || row[x] == invalid {
			continue
		}
		xr := x - d
		if xr < 0 || xr >= len(rightBest) || rightBest[xr] == noMatch {
			continue
		}
		if utils.AbsInt(rightBest[xr]-d) > maxDiff {
			row[x] = invalid
		}
	}
}

// maskROI invalidates everything outside roi.
func maskROI(disp *rimage.DisparityMap, roi image.Rectangle) {
	invalid := disp.Invalid()
	for y := 0; y < disp.Height(); y++ {
		row := disp.Row(y)
		for x := range row {
			if !image.Pt(x, y).In(roi) {
				row[x] = invalid
			}
		}
	}
}

// postProcess applies the ROI mask and the speckle filter shared by all matchers.
func postProcess(disp *rimage.DisparityMap, p Params, speckleDiff int) {
	if !p.ROI1.Empty() && !p.ROI2.Empty() {
		maskROI(disp, ValidDisparityROI(p.ROI1, p.ROI2, p.MinDisparity, p.NumDisparities, p.BlockSize))
	}
	if p.SpeckleWindowSize > 0 {
		FilterSpeckles(disp, disp.Invalid(), p.SpeckleWindowSize, speckleDiff)
	}
}

// ToVisual scales a disparity map to 8 bits with d*255/(numDisparities*16), saturating.
func ToVisual(disp *rimage.DisparityMap, numDisparities int) *rimage.GrayImage {
	out := rimage.NewGrayImage(disp.Width(), disp.Height())
	if numDisparities <= 0 {
		return out
	}
	scale := 255 / float64(numDisparities*rimage.DisparityScale)
	for y := 0; y < disp.Height(); y++ {
		src, dst := disp.Row(y), out.Row(y)
		for x, d := range src {
			dst[x] = utils.ClampToUint8(float64(d) * scale)
		}
	}
	return out
}
