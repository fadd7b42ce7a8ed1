package stereo

import (
	"context"
	"time"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// BlockMatcher finds, for each left pixel, the disparity minimizing the sum of absolute
// differences of x-Sobel prefiltered blocks.
type BlockMatcher struct {
	params Params
	logger logging.Logger
}

// Algorithm returns AlgorithmBM.
func (m *BlockMatcher) Algorithm() Algorithm {
	return AlgorithmBM
}

// Params returns the matcher's parameters.
func (m *BlockMatcher) Params() Params {
	return m.params
}

// Compute returns the disparity map of a rectified pair. Pixels closer than half a block to the
// border, or outside the columns where every disparity can be searched, stay invalid.
func (m *BlockMatcher) Compute(ctx context.Context, left, right *rimage.GrayImage) (*rimage.DisparityMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := m.params
	x0, x1, err := checkPair(left, right, p)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	w, h := left.Width(), left.Height()
	half := p.BlockSize / 2
	disp := rimage.NewDisparityMap(w, h, p.MinDisparity, p.NumDisparities)
	lf := prefilterXSobel(left, p.PreFilterCap)
	rf := prefilterXSobel(right, p.PreFilterCap)
	if err := utils.ParallelForEachRow(ctx, h, func(y int) {
		if y < half || y >= h-half {
			return
		}
		m.matchRow(lf, rf, w, y, x0, x1, disp)
	}); err != nil {
		return nil, err
	}
	postProcess(disp, p, p.SpeckleRange)
	if m.logger != nil {
		m.logger.Debugw("block matching done", "width", w, "height", h, "valid", disp.ValidCount(), "took", time.Since(start))
	}
	return disp, nil
}

func (m *BlockMatcher) matchRow(lf, rf []uint8, w, y, x0, x1 int, disp *rimage.DisparityMap) {
	p := m.params
	half := p.BlockSize / 2
	nd := p.NumDisparities
	span := x1 - x0

	// costs[(x-x0)*nd+i] is the block SAD of pixel x at disparity MinDisparity+i.
	costs := make([]int32, span*nd)
	colSums := make([]int32, span)
	for i := 0; i < nd; i++ {
		d := p.MinDisparity + i
		clear(colSums)
		for j := -half; j <= half; j++ {
			base := (y + j) * w
			for x := x0; x < x1; x++ {
				colSums[x-x0] += int32(utils.AbsInt(int(lf[base+x]) - int(rf[base+x-d])))
			}
		}
		var sum int32
		for k := 0; k < p.BlockSize; k++ {
			sum += colSums[k]
		}
		for x := x0 + half; x < x1-half; x++ {
			costs[(x-x0)*nd+i] = sum
			if x+half+1 < x1 {
				sum += colSums[x+half+1-x0] - colSums[x-half-x0]
			}
		}
	}

	row := disp.Row(y)
	bestDisp := make([]int, w)
	for x := range bestDisp {
		bestDisp[x] = noMatch
	}
	rightBest, rightCost := newRightMatches(w)
	for x := x0 + half; x < x1-half; x++ {
		if p.TextureThreshold > 0 && m.texture(lf, w, x, y) < p.TextureThreshold {
			continue
		}
		c := costs[(x-x0)*nd : (x-x0+1)*nd]
		best, fixed, ok := winner(c, p.MinDisparity, p.UniquenessRatio)
		if !ok {
			continue
		}
		d := p.MinDisparity + best
		row[x] = fixed
		bestDisp[x] = d
		markRight(rightBest, rightCost, x, d, int64(c[best]))
	}
	leftRightCheck(row, bestDisp, rightBest, disp.Invalid(), p.Disp12MaxDiff)
}

// texture is the summed deviation of the prefiltered block around (x, y) from flat.
func (m *BlockMatcher) texture(lf []uint8, w, x, y int) int {
	half := m.params.BlockSize / 2
	sum := 0
	for j := -half; j <= half; j++ {
		base := (y+j)*w + x
		for i := -half; i <= half; i++ {
			sum += utils.AbsInt(int(lf[base+i]) - m.params.PreFilterCap)
		}
	}
	return sum
}
