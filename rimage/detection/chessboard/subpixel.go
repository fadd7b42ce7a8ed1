package chessboard

import (
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/stereo/rimage"
)

// TermCriteria bounds an iterative refinement.
type TermCriteria struct {
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
}

// DefaultTermCriteria stops sub-pixel refinement after 30 iterations or a 0.01 px move.
var DefaultTermCriteria = TermCriteria{MaxIterations: 30, Epsilon: 0.01}

// gradientField holds central difference derivatives of an image.
type gradientField struct {
	gx, gy []float64
	w, h   int
}

func newGradientField(img *rimage.GrayImage) *gradientField {
	w, h := img.Width(), img.Height()
	gf := &gradientField{gx: make([]float64, w*h), gy: make([]float64, w*h), w: w, h: h}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gf.gx[y*w+x] = (float64(img.GetClamped(x+1, y)) - float64(img.GetClamped(x-1, y))) * 0.5
			gf.gy[y*w+x] = (float64(img.GetClamped(x, y+1)) - float64(img.GetClamped(x, y-1))) * 0.5
		}
	}
	return gf
}

func (gf *gradientField) sample(x, y float64) (float64, float64) {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	ax, ay := x-float64(x0), y-float64(y0)
	get := func(buf []float64, px, py int) float64 {
		if px < 0 || py < 0 || px >= gf.w || py >= gf.h {
			return 0
		}
		return buf[py*gf.w+px]
	}
	bilinear := func(buf []float64) float64 {
		return (1-ay)*((1-ax)*get(buf, x0, y0)+ax*get(buf, x0+1, y0)) +
			ay*((1-ax)*get(buf, x0, y0+1)+ax*get(buf, x0+1, y0+1))
	}
	return bilinear(gf.gx), bilinear(gf.gy)
}

// RefineCorners moves each corner to the point where the image gradients in a
// (2*halfWin+1)^2 window are orthogonal to the vectors joining the corner to the gradient
// samples. A corner that would leave its window keeps its input position. The input is not
// modified.
func RefineCorners(img *rimage.GrayImage, corners CornerSet, halfWin int, criteria TermCriteria) CornerSet {
	out := make(CornerSet, len(corners))
	copy(out, corners)
	if halfWin < 1 || img.Empty() {
		return out
	}
	gf := newGradientField(img)
	sigma := float64(halfWin)
	for k, start := range corners {
		q := start
		for it := 0; it < criteria.MaxIterations; it++ {
			var a, b, c, bx, by float64
			for dy := -halfWin; dy <= halfWin; dy++ {
				for dx := -halfWin; dx <= halfWin; dx++ {
					px, py := q.X+float64(dx), q.Y+float64(dy)
					gx, gy := gf.sample(px, py)
					wgt := math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
					gxx, gxy, gyy := gx*gx*wgt, gx*gy*wgt, gy*gy*wgt
					a += gxx
					b += gxy
					c += gyy
					bx += gxx*px + gxy*py
					by += gxy*px + gyy*py
				}
			}
			det := a*c - b*b
			if math.Abs(det) <= 1e-12*(a*c+1) {
				break
			}
			next := r2.Point{X: (c*bx - b*by) / det, Y: (a*by - b*bx) / det}
			moved := next.Sub(q).Norm()
			q = next
			if moved <= criteria.Epsilon {
				break
			}
		}
		if math.Abs(q.X-start.X) > float64(halfWin) || math.Abs(q.Y-start.Y) > float64(halfWin) ||
			!isFinitePoint(q) {
			q = start
		}
		out[k] = q
	}
	return out
}

func isFinitePoint(p r2.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// refineWindow clamps the sub-pixel half window to 40% of the smallest spacing between
// neighboring corners of the pattern.
func refineWindow(corners []r2.Point, width, height, halfWin int) int {
	spacing := math.Inf(1)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			p := corners[r*width+c]
			if c+1 < width {
				spacing = math.Min(spacing, corners[r*width+c+1].Sub(p).Norm())
			}
			if r+1 < height {
				spacing = math.Min(spacing, corners[(r+1)*width+c].Sub(p).Norm())
			}
		}
	}
	if math.IsInf(spacing, 1) {
		return halfWin
	}
	limit := int(0.4 * spacing)
	if limit < 1 {
		limit = 1
	}
	return min(halfWin, limit)
}
