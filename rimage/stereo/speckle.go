package stereo

import (
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// FilterSpeckles replaces with newVal every 4-connected region of at most maxSpeckleSize pixels,
// where neighbors belong to the same region when their values differ by at most maxDiff. Pixels
// already equal to newVal never belong to a region.
func FilterSpeckles(disp *rimage.DisparityMap, newVal int16, maxSpeckleSize, maxDiff int) {
	w, h := disp.Width(), disp.Height()
	if maxSpeckleSize <= 0 || w == 0 || h == 0 {
		return
	}
	labels := make([]int32, w*h)
	var (
		label   int32
		queue   []int
		members []int
	)
	values := func(k int) int16 { return disp.Get(k%w, k/w) }
	for k := range labels {
		if labels[k] != 0 || values(k) == newVal {
			continue
		}
		label++
		labels[k] = label
		queue = append(queue[:0], k)
		members = members[:0]
		for len(queue) > 0 {
			cur := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			members = append(members, cur)
			x, y := cur%w, cur/w
			v := int(values(cur))
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				nk := n[1]*w + n[0]
				if labels[nk] != 0 {
					continue
				}
				nv := values(nk)
				if nv == newVal || utils.AbsInt(int(nv)-v) > maxDiff {
					continue
				}
				labels[nk] = label
				queue = append(queue, nk)
			}
		}
		if len(members) <= maxSpeckleSize {
			for _, m := range members {
				disp.Set(m%w, m/w, newVal)
			}
		}
	}
}
