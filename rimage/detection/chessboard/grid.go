package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// cell indexes a corner in the grid being grown: i along the first basis vector, j along the
// second.
type cell struct {
	i, j int
}

// chessGrid is a partially grown lattice of saddle points.
type chessGrid struct {
	points map[cell]int
	used   map[int]bool
	cands  []r2.Point
	tol    float64
}

// matchTolerance is the fraction of the local grid step within which a candidate is accepted.
const matchTolerance = 0.35

// nearestUnused returns the closest unused candidate to p within maxDist, or -1.
func (g *chessGrid) nearestUnused(p r2.Point, maxDist float64) int {
	best, bestDist := -1, maxDist
	for k, c := range g.cands {
		if g.used[k] {
			continue
		}
		if d := c.Sub(p).Norm(); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func (g *chessGrid) at(c cell) (r2.Point, bool) {
	k, ok := g.points[c]
	if !ok {
		return r2.Point{}, false
	}
	return g.cands[k], true
}

func (g *chessGrid) add(c cell, k int) {
	g.points[c] = k
	g.used[k] = true
}

// neighbors returns the candidate indices sorted by distance to p, closest first, excluding p's
// own index.
func neighbors(cands []r2.Point, self int, count int) []int {
	idx := make([]int, 0, len(cands)-1)
	for k := range cands {
		if k != self {
			idx = append(idx, k)
		}
	}
	p := cands[self]
	sort.SliceStable(idx, func(a, b int) bool {
		return cands[idx[a]].Sub(p).Norm() < cands[idx[b]].Sub(p).Norm()
	})
	if len(idx) > count {
		idx = idx[:count]
	}
	return idx
}

// seedGrid tries to build a complete 3x3 lattice centered on candidate `center`.
func seedGrid(cands []r2.Point, center int) (*chessGrid, bool) {
	near := neighbors(cands, center, 8)
	if len(near) < 8 {
		return nil, false
	}
	c := cands[center]
	u := cands[near[0]].Sub(c)
	uLen := u.Norm()
	if uLen == 0 {
		return nil, false
	}
	var v r2.Point
	found := false
	for _, k := range near[1:] {
		d := cands[k].Sub(c)
		cos := math.Abs(d.Dot(u)) / (d.Norm() * uLen)
		if cos < 0.5 {
			v = d
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}
	// keep the basis right handed in image coordinates (x right, y down)
	if u.Cross(v) < 0 {
		v = v.Mul(-1)
	}
	step := math.Min(uLen, v.Norm())
	g := &chessGrid{
		points: map[cell]int{{0, 0}: center},
		used:   map[int]bool{center: true},
		cands:  cands,
		tol:    matchTolerance * step,
	}
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			if i == 0 && j == 0 {
				continue
			}
			pred := c.Add(u.Mul(float64(i))).Add(v.Mul(float64(j)))
			k := g.nearestUnused(pred, g.tol)
			if k < 0 {
				return nil, false
			}
			g.add(cell{i, j}, k)
		}
	}
	return g, true
}

// predict extrapolates the position of c from its already placed neighbors. It returns false
// when no straight line of two placed corners points at c.
func (g *chessGrid) predict(c cell) (r2.Point, float64, bool) {
	var sum r2.Point
	var stepSum float64
	n := 0
	for _, d := range []cell{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		p1, ok1 := g.at(cell{c.i - d.i, c.j - d.j})
		p2, ok2 := g.at(cell{c.i - 2*d.i, c.j - 2*d.j})
		if !ok1 || !ok2 {
			continue
		}
		step := p1.Sub(p2)
		sum = sum.Add(p1.Add(step))
		stepSum += step.Norm()
		n++
	}
	if n == 0 {
		return r2.Point{}, 0, false
	}
	return sum.Mul(1 / float64(n)), stepSum / float64(n), true
}

// bounds returns the inclusive index extent of the grid.
func (g *chessGrid) bounds() (minI, maxI, minJ, maxJ int) {
	first := true
	for c := range g.points {
		if first {
			minI, maxI, minJ, maxJ = c.i, c.i, c.j, c.j
			first = false
			continue
		}
		minI = min(minI, c.i)
		maxI = max(maxI, c.i)
		minJ = min(minJ, c.j)
		maxJ = max(maxJ, c.j)
	}
	return minI, maxI, minJ, maxJ
}

// grow extends the lattice until no more corners can be attached or it outgrows maxSide in
// either direction.
func (g *chessGrid) grow(maxSide int) {
	for {
		minI, maxI, minJ, maxJ := g.bounds()
		if maxI-minI+1 > maxSide || maxJ-minJ+1 > maxSide {
			return
		}
		added := false
		for j := minJ - 1; j <= maxJ+1; j++ {
			for i := minI - 1; i <= maxI+1; i++ {
				c := cell{i, j}
				if _, ok := g.points[c]; ok {
					continue
				}
				pred, step, ok := g.predict(c)
				if !ok {
					continue
				}
				if k := g.nearestUnused(pred, matchTolerance*step); k >= 0 {
					g.add(c, k)
					added = true
				}
			}
		}
		if !added {
			return
		}
	}
}

// extract checks that the grid is a full rectangle of the pattern size in either orientation
// and returns the corners ordered row by row: each row holds `width` corners, the first row is
// the top one and the first corner of a row is the left one.
func (g *chessGrid) extract(width, height int) ([]r2.Point, bool) {
	if len(g.points) != width*height {
		return nil, false
	}
	minI, maxI, minJ, maxJ := g.bounds()
	ni, nj := maxI-minI+1, maxJ-minJ+1
	if ni*nj != len(g.points) {
		return nil, false
	}
	var alongRowI bool
	switch {
	case ni == width && nj == height && width != height:
		alongRowI = true
	case nj == width && ni == height && width != height:
		alongRowI = false
	case ni == width && nj == height:
		// square pattern: rows follow the more horizontal axis
		pi, _ := g.at(cell{minI, minJ})
		qi, _ := g.at(cell{maxI, minJ})
		qj, _ := g.at(cell{minI, maxJ})
		di, dj := qi.Sub(pi), qj.Sub(pi)
		alongRowI = math.Abs(di.X)*dj.Norm() >= math.Abs(dj.X)*di.Norm()
	default:
		return nil, false
	}

	// get returns the corner at row r, column c in the un-oriented layout.
	get := func(r, c int) r2.Point {
		var p r2.Point
		if alongRowI {
			p, _ = g.at(cell{minI + c, minJ + r})
		} else {
			p, _ = g.at(cell{minI + r, minJ + c})
		}
		return p
	}
	ordered := make([]r2.Point, 0, width*height)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			ordered = append(ordered, get(r, c))
		}
	}
	return orientCanonical(ordered, width, height), true
}

// orientCanonical flips the row-major corner array so that, for a board seen from the front,
// rows advance left to right and the first row is on top. A board turned on its side keeps
// the same handedness with the first row on the left.
func orientCanonical(pts []r2.Point, width, height int) []r2.Point {
	at := func(r, c int) r2.Point { return pts[r*width+c] }
	rowDir := at(0, width-1).Sub(at(0, 0)).Add(at(height-1, width-1).Sub(at(height-1, 0)))
	colDir := at(height-1, 0).Sub(at(0, 0)).Add(at(height-1, width-1).Sub(at(0, width-1)))

	var flipCols, flipRows bool
	if math.Abs(rowDir.X) >= math.Abs(rowDir.Y) {
		flipCols = rowDir.X < 0
		if flipCols {
			rowDir = rowDir.Mul(-1)
		}
		flipRows = rowDir.Cross(colDir) < 0
	} else {
		flipRows = colDir.X < 0
		if flipRows {
			colDir = colDir.Mul(-1)
		}
		flipCols = rowDir.Cross(colDir) < 0
	}

	out := make([]r2.Point, 0, len(pts))
	for r := 0; r < height; r++ {
		sr := r
		if flipRows {
			sr = height - 1 - r
		}
		for c := 0; c < width; c++ {
			sc := c
			if flipCols {
				sc = width - 1 - c
			}
			out = append(out, at(sr, sc))
		}
	}
	return out
}
