package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// GridConfiguration stores the parameters used to assemble corner candidates into the board lattice.
type GridConfiguration struct {
	MatchTolerance float64 `json:"match-tolerance"` // accepted distance to a predicted corner, as a fraction of the local spacing
	MaxSeeds       int     `json:"max-seeds"`       // number of candidates tried as the lattice origin
}

// DefaultGridConf stores the default lattice assembly parameters.
var DefaultGridConf = GridConfiguration{
	MatchTolerance: 0.3,
	MaxSeeds:       12,
}

var latticeSteps = []image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// lattice maps integer grid coordinates to corner candidates.
type lattice struct {
	pts   []r2.Point
	cells map[image.Point]int
	used  []bool
	// first basis vectors, used until the lattice has enough cells to extrapolate from
	u, v       r2.Point
	minC, maxC image.Point
}

// AssembleGrid finds a cols x rows lattice among the corner candidates and returns its points row-major, cols points
// per row. The first row runs towards +x in the image (towards +y when the rows are vertical) and the rows follow
// each other so that the lattice is right-handed in image coordinates.
func AssembleGrid(pts []r2.Point, cols, rows int, conf *GridConfiguration) ([]r2.Point, error) {
	if len(pts) < cols*rows {
		return nil, errors.Wrapf(ErrNotFound, "found %d corner candidates, need %d", len(pts), cols*rows)
	}
	seeds := seedOrder(pts)
	if conf.MaxSeeds > 0 && len(seeds) > conf.MaxSeeds {
		seeds = seeds[:conf.MaxSeeds]
	}
	for _, seed := range seeds {
		l := growLattice(pts, seed, cols, rows, conf)
		if l == nil {
			continue
		}
		if ordered, ok := l.ordered(cols, rows); ok {
			return ordered, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "no %dx%d lattice among %d corner candidates", cols, rows, len(pts))
}

// seedOrder lists candidate indices from the closest to the centroid of all candidates outwards.
func seedOrder(pts []r2.Point) []int {
	centroid := r2.Point{}
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	order := make([]int, len(pts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return pts[order[i]].Sub(centroid).Norm() < pts[order[j]].Sub(centroid).Norm()
	})
	return order
}

func growLattice(pts []r2.Point, seed, cols, rows int, conf *GridConfiguration) *lattice {
	neighbors := nearestNeighbors(pts, seed, 8)
	if len(neighbors) < 2 {
		return nil
	}
	u := pts[neighbors[0]].Sub(pts[seed])
	var v r2.Point
	found := false
	for _, n := range neighbors[1:] {
		d := pts[n].Sub(pts[seed])
		cos := u.Dot(d) / (u.Norm() * d.Norm())
		if math.Abs(cos) < 0.5 && d.Norm() < 2*u.Norm() {
			v, found = d, true
			break
		}
	}
	if !found {
		return nil
	}

	l := &lattice{
		pts:   pts,
		cells: map[image.Point]int{{0, 0}: seed},
		used:  make([]bool, len(pts)),
		u:     u,
		v:     v,
	}
	l.used[seed] = true
	limit := max(cols, rows)

	queue := []image.Point{{0, 0}}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, dir := range latticeSteps {
			next := c.Add(dir)
			if _, ok := l.cells[next]; ok {
				continue
			}
			pred, spacing := l.predict(c, dir)
			idx := l.nearestUnused(pred, conf.MatchTolerance*spacing)
			if idx < 0 {
				continue
			}
			l.cells[next] = idx
			l.used[idx] = true
			l.minC = image.Point{min(l.minC.X, next.X), min(l.minC.Y, next.Y)}
			l.maxC = image.Point{max(l.maxC.X, next.X), max(l.maxC.Y, next.Y)}
			if l.maxC.X-l.minC.X >= limit || l.maxC.Y-l.minC.Y >= limit {
				// larger than the board, something else is lined up with it
				return nil
			}
			queue = append(queue, next)
		}
	}
	return l
}

// predict extrapolates where the neighbor of c in direction dir should be, and the local lattice spacing.
func (l *lattice) predict(c, dir image.Point) (r2.Point, float64) {
	p := l.pts[l.cells[c]]
	if back, ok := l.cells[c.Sub(dir)]; ok {
		step := p.Sub(l.pts[back])
		return p.Add(step), step.Norm()
	}
	for _, perp := range []image.Point{{dir.Y, dir.X}, {-dir.Y, -dir.X}} {
		m, ok := l.cells[c.Add(perp)]
		if !ok {
			continue
		}
		mNext, ok := l.cells[c.Add(perp).Add(dir)]
		if !ok {
			continue
		}
		step := l.pts[mNext].Sub(l.pts[m])
		return p.Add(step), step.Norm()
	}
	step := l.u.Mul(float64(dir.X)).Add(l.v.Mul(float64(dir.Y)))
	return p.Add(step), step.Norm()
}

func (l *lattice) nearestUnused(pred r2.Point, tol float64) int {
	best, bestDist := -1, tol
	for i, p := range l.pts {
		if l.used[i] {
			continue
		}
		if d := p.Sub(pred).Norm(); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func nearestNeighbors(pts []r2.Point, idx, k int) []int {
	others := make([]int, 0, len(pts)-1)
	for i := range pts {
		if i != idx {
			others = append(others, i)
		}
	}
	sort.SliceStable(others, func(i, j int) bool {
		return pts[others[i]].Sub(pts[idx]).Norm() < pts[others[j]].Sub(pts[idx]).Norm()
	})
	if len(others) > k {
		others = others[:k]
	}
	return others
}

// ordered lays the lattice out as rows of cols points, or reports false when it is not a complete cols x rows grid.
func (l *lattice) ordered(cols, rows int) ([]r2.Point, bool) {
	w, h := l.maxC.X-l.minC.X+1, l.maxC.Y-l.minC.Y+1
	if len(l.cells) != w*h {
		return nil, false
	}
	var rowsAlongY bool // lattice x indexes the columns, lattice y the rows
	switch {
	case w == cols && h == rows:
		rowsAlongY = true
	case w == rows && h == cols:
		rowsAlongY = false
	default:
		return nil, false
	}

	var flipCol, flipRow bool
	at := func(row, col int) r2.Point {
		if flipCol {
			col = cols - 1 - col
		}
		if flipRow {
			row = rows - 1 - row
		}
		if rowsAlongY {
			return l.pts[l.cells[l.minC.Add(image.Point{col, row})]]
		}
		return l.pts[l.cells[l.minC.Add(image.Point{row, col})]]
	}
	axes := func() (r2.Point, r2.Point) {
		var rowDir, colDir r2.Point
		for r := 0; r < rows; r++ {
			rowDir = rowDir.Add(at(r, cols-1).Sub(at(r, 0)))
		}
		for c := 0; c < cols; c++ {
			colDir = colDir.Add(at(rows-1, c).Sub(at(0, c)))
		}
		return rowDir, colDir
	}

	rowDir, colDir := axes()
	if cols == rows && math.Abs(colDir.X) > math.Abs(rowDir.X) {
		// a square board can be read either way, rows go along the more horizontal axis
		rowsAlongY = !rowsAlongY
		rowDir, colDir = axes()
	}
	if rowDir.X < 0 || (math.Abs(rowDir.X) <= 1e-9*rowDir.Norm() && rowDir.Y < 0) {
		flipCol = true
		rowDir, colDir = axes()
	}
	if rowDir.Cross(colDir) < 0 {
		flipRow = true
	}

	out := make([]r2.Point, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, at(r, c))
		}
	}
	return out, true
}
