package stereo

import (
	"context"
	"image"
	"math"
	"time"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// Mode selects the aggregation paths of a SemiGlobalMatcher.
type Mode int

// The semi-global modes.
const (
	// ModeSGBM aggregates along five directions in a single top-down pass.
	ModeSGBM Mode = iota
	// ModeHH aggregates along all eight directions.
	ModeHH
	// Mode3Way aggregates along the horizontal and vertical directions only.
	Mode3Way
)

func (m Mode) String() string {
	switch m {
	case ModeSGBM:
		return "sgbm"
	case ModeHH:
		return "hh"
	case Mode3Way:
		return "sgbm3way"
	default:
		return "unknown"
	}
}

// Directions returns the steps of the paths costs are aggregated along.
func (m Mode) Directions() []image.Point {
	switch m {
	case ModeHH:
		return []image.Point{
			{1, 0}, {-1, 0}, {0, 1}, {0, -1},
			{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
		}
	case Mode3Way:
		return []image.Point{{1, 0}, {-1, 0}, {0, 1}}
	default:
		return []image.Point{{1, 0}, {-1, 0}, {0, 1}, {1, 1}, {-1, 1}}
	}
}

// SemiGlobalMatcher smooths Birchfield-Tomasi matching costs along several image paths before
// picking the disparity of each pixel.
type SemiGlobalMatcher struct {
	Mode   Mode
	params Params
	logger logging.Logger
}

// Algorithm returns the algorithm matching the matcher's mode.
func (m *SemiGlobalMatcher) Algorithm() Algorithm {
	switch m.Mode {
	case ModeHH:
		return AlgorithmHH
	case Mode3Way:
		return AlgorithmSGBM3Way
	default:
		return AlgorithmSGBM
	}
}

// Params returns the matcher's parameters.
func (m *SemiGlobalMatcher) Params() Params {
	return m.params
}

// costVolume holds per pixel, per disparity values of a region, disparity fastest.
type costVolume struct {
	region image.Rectangle
	nd     int
}

func (v costVolume) index(x, y int) int {
	return ((y-v.region.Min.Y)*v.region.Dx() + (x - v.region.Min.X)) * v.nd
}

func (v costVolume) size() int {
	return v.region.Dx() * v.region.Dy() * v.nd
}

// Compute returns the disparity map of a rectified pair.
func (m *SemiGlobalMatcher) Compute(ctx context.Context, left, right *rimage.GrayImage) (*rimage.DisparityMap, error) {
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
	vol := costVolume{region: image.Rect(x0, 0, x1, h), nd: p.NumDisparities}

	costs, err := m.matchingCost(ctx, left, right, vol)
	if err != nil {
		return nil, err
	}
	sum := make([]int32, vol.size())
	for _, dir := range m.Mode.Directions() {
		if err := m.aggregate(ctx, costs, sum, vol, dir); err != nil {
			return nil, err
		}
	}

	disp := rimage.NewDisparityMap(w, h, p.MinDisparity, p.NumDisparities)
	if err := utils.ParallelForEachRow(ctx, h, func(y int) {
		m.selectRow(sum, vol, y, disp)
	}); err != nil {
		return nil, err
	}
	postProcess(disp, p, p.SpeckleRange*rimage.DisparityScale)
	if m.logger != nil {
		m.logger.Debugw("semi-global matching done", "mode", m.Mode, "width", w, "height", h,
			"valid", disp.ValidCount(), "took", time.Since(start))
	}
	return disp, nil
}

// btRange holds, per pixel, the extremes of the image interpolated half a pixel to each side.
type btRange struct {
	values, lo, hi []int16
}

func newBTRange(values []int16, w, h int) btRange {
	r := btRange{values: values, lo: make([]int16, len(values)), hi: make([]int16, len(values))}
	for y := 0; y < h; y++ {
		base := y * w
		for x := 0; x < w; x++ {
			v := values[base+x]
			prev := (v + values[base+max(x-1, 0)]) / 2
			next := (v + values[base+min(x+1, w-1)]) / 2
			r.lo[base+x] = min(v, prev, next)
			r.hi[base+x] = max(v, prev, next)
		}
	}
	return r
}

// bt is the Birchfield-Tomasi dissimilarity of left index i and right index j.
func bt(l, r btRange, i, j int) int16 {
	lv, rv := l.values[i], r.values[j]
	a := max(0, lv-r.hi[j], r.lo[j]-lv)
	b := max(0, rv-l.hi[i], l.lo[i]-rv)
	return min(a, b)
}

func sobelValues(img *rimage.GrayImage, limit int) []int16 {
	filtered := prefilterXSobel(img, limit)
	out := make([]int16, len(filtered))
	for k, v := range filtered {
		out[k] = int16(v)
	}
	return out
}

func rawValues(img *rimage.GrayImage) []int16 {
	out := make([]int16, img.Width()*img.Height())
	for y := 0; y < img.Height(); y++ {
		row := img.Row(y)
		for x, v := range row {
			out[y*img.Width()+x] = int16(v)
		}
	}
	return out
}

// matchingCost returns the block summed pixel costs of the region. A pixel cost is the
// Birchfield-Tomasi dissimilarity of the prefiltered images plus a quarter of the one of the
// raw images.
func (m *SemiGlobalMatcher) matchingCost(
	ctx context.Context,
	left, right *rimage.GrayImage,
	vol costVolume,
) ([]int16, error) {
	p := m.params
	w, h := left.Width(), left.Height()
	ls := newBTRange(sobelValues(left, p.PreFilterCap), w, h)
	rs := newBTRange(sobelValues(right, p.PreFilterCap), w, h)
	lr := newBTRange(rawValues(left), w, h)
	rr := newBTRange(rawValues(right), w, h)

	pixel := make([]int16, vol.size())
	region := vol.region
	if err := utils.ParallelForEachRow(ctx, h, func(y int) {
		for x := region.Min.X; x < region.Max.X; x++ {
			out := pixel[vol.index(x, y):]
			i := y*w + x
			for k := 0; k < vol.nd; k++ {
				j := i - p.MinDisparity - k
				out[k] = bt(ls, rs, i, j) + bt(lr, rr, i, j)>>2
			}
		}
	}); err != nil {
		return nil, err
	}
	if p.BlockSize == 1 {
		return pixel, nil
	}

	// box sum clipped to the region, first along columns then along rows.
	half := p.BlockSize / 2
	vertical := make([]int16, vol.size())
	if err := utils.ParallelForEachRow(ctx, h, func(y int) {
		y0, y1 := max(y-half, region.Min.Y), min(y+half, region.Max.Y-1)
		for x := region.Min.X; x < region.Max.X; x++ {
			out := vertical[vol.index(x, y) : vol.index(x, y)+vol.nd]
			for yy := y0; yy <= y1; yy++ {
				in := pixel[vol.index(x, yy):]
				for k := range out {
					out[k] += in[k]
				}
			}
		}
	}); err != nil {
		return nil, err
	}
	summed := pixel
	clear(summed)
	if err := utils.ParallelForEachRow(ctx, h, func(y int) {
		for x := region.Min.X; x < region.Max.X; x++ {
			xa, xb := max(x-half, region.Min.X), min(x+half, region.Max.X-1)
			out := summed[vol.index(x, y) : vol.index(x, y)+vol.nd]
			for xx := xa; xx <= xb; xx++ {
				in := vertical[vol.index(xx, y):]
				for k := range out {
					out[k] += in[k]
				}
			}
		}
	}); err != nil {
		return nil, err
	}
	return summed, nil
}

// pathStarts returns the pixels of region whose predecessor along dir lies outside of it.
func pathStarts(region image.Rectangle, dir image.Point) []image.Point {
	var starts []image.Point
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			pt := image.Pt(x, y)
			if !pt.Sub(dir).In(region) {
				starts = append(starts, pt)
			}
		}
	}
	return starts
}

// aggregate adds to sum the costs smoothed along every path of direction dir:
//
//	Lr(p, d) = C(p, d) + min(Lr(p-r, d), Lr(p-r, d±1) + P1, min_k Lr(p-r, k) + P2) - min_k Lr(p-r, k)
//
// Every pixel belongs to exactly one path of a direction, so paths are processed in parallel.
func (m *SemiGlobalMatcher) aggregate(ctx context.Context, costs []int16, sum []int32, vol costVolume, dir image.Point) error {
	p1, p2 := int32(m.params.P1), int32(m.params.P2)
	nd := vol.nd
	starts := pathStarts(vol.region, dir)
	return utils.GroupWorkParallel(ctx, len(starts), func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		prev := make([]int32, nd)
		cur := make([]int32, nd)
		return func(memberNum, workNum int) {
			pt := starts[workNum]
			first := true
			var prevMin int32
			for ; pt.In(vol.region); pt = pt.Add(dir) {
				idx := vol.index(pt.X, pt.Y)
				c := costs[idx : idx+nd]
				curMin := int32(math.MaxInt32)
				for d := 0; d < nd; d++ {
					v := int32(c[d])
					if !first {
						best := min(prev[d], prevMin+p2)
						if d > 0 {
							best = min(best, prev[d-1]+p1)
						}
						if d < nd-1 {
							best = min(best, prev[d+1]+p1)
						}
						v += best - prevMin
					}
					cur[d] = v
					curMin = min(curMin, v)
				}
				s := sum[idx : idx+nd]
				for d, v := range cur {
					s[d] += v
				}
				prev, cur = cur, prev
				prevMin = curMin
				first = false
			}
		}, nil
	})
}

func (m *SemiGlobalMatcher) selectRow(sum []int32, vol costVolume, y int, disp *rimage.DisparityMap) {
	p := m.params
	w := disp.Width()
	row := disp.Row(y)
	bestDisp := make([]int, w)
	for x := range bestDisp {
		bestDisp[x] = noMatch
	}
	rightBest, rightCost := newRightMatches(w)
	for x := vol.region.Min.X; x < vol.region.Max.X; x++ {
		idx := vol.index(x, y)
		s := sum[idx : idx+vol.nd]
		best, fixed, ok := winner(s, p.MinDisparity, p.UniquenessRatio)
		if !ok {
			continue
		}
		d := p.MinDisparity + best
		row[x] = fixed
		bestDisp[x] = d
		markRight(rightBest, rightCost, x, d, int64(s[best]))
	}
	leftRightCheck(row, bestDisp, rightBest, disp.Invalid(), p.Disp12MaxDiff)
}
