package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-modules/chessboard-calibration/rimage"
)

// RefineConfiguration stores the parameters of the sub-pixel corner refinement.
type RefineConfiguration struct {
	HalfWindow    int     `json:"half-window"`    // the search window is (2*HalfWindow+1) pixels wide
	MaxIterations int     `json:"max-iterations"` // iteration cap
	Epsilon       float64 `json:"epsilon"`        // stop once the corner moves less than this, in pixels
}

// DefaultRefineConf is an 11x11 window, at most 30 iterations, stopping below a 0.001 pixel shift.
var DefaultRefineConf = RefineConfiguration{
	HalfWindow:    5,
	MaxIterations: 30,
	Epsilon:       0.001,
}

// RefineCorner moves a corner estimate to the point where the image gradients in the surrounding window are all
// orthogonal to the vector from the corner, which is where two edges cross. The estimate is kept when the solution
// leaves the window or the gradients are degenerate.
func RefineCorner(img *mat.Dense, start r2.Point, conf *RefineConfiguration) r2.Point {
	half := conf.HalfWindow
	if half < 1 {
		return start
	}
	// gaussian weights exp(-(dx²+dy²)/half²), computed once
	size := 2*half + 1
	weights := make([]float64, size*size)
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			fx, fy := float64(dx)/float64(half), float64(dy)/float64(half)
			weights[(dy+half)*size+dx+half] = math.Exp(-fx*fx - fy*fy)
		}
	}

	c := start
	for iter := 0; iter < conf.MaxIterations; iter++ {
		var a, b, cc, bb1, bb2 float64
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				px, py := c.X+float64(dx), c.Y+float64(dy)
				gx := (rimage.Bilinear(img, px+1, py) - rimage.Bilinear(img, px-1, py)) / 2
				gy := (rimage.Bilinear(img, px, py+1) - rimage.Bilinear(img, px, py-1)) / 2
				w := weights[(dy+half)*size+dx+half]
				gxx, gxy, gyy := gx*gx*w, gx*gy*w, gy*gy*w
				a += gxx
				b += gxy
				cc += gyy
				bb1 += gxx*px + gxy*py
				bb2 += gxy*px + gyy*py
			}
		}
		det := a*cc - b*b
		if math.Abs(det) < 1e-12 {
			break
		}
		next := r2.Point{X: (cc*bb1 - b*bb2) / det, Y: (a*bb2 - b*bb1) / det}
		shift := next.Sub(c).Norm()
		c = next
		if shift < conf.Epsilon {
			break
		}
	}
	if math.Abs(c.X-start.X) > float64(half) || math.Abs(c.Y-start.Y) > float64(half) ||
		math.IsNaN(c.X) || math.IsNaN(c.Y) {
		return start
	}
	return c
}
