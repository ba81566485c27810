package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-modules/chessboard-calibration/rimage"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into saddle point candidates
// and to keep only the candidates that look like the crossing of two chessboard edges.
type SaddleConfiguration struct {
	BlurSigma         float64 `json:"blur-sigma"`         // gaussian blur applied before differentiating
	RelativeThreshold float64 `json:"relative-threshold"` // fraction of the strongest saddle response a candidate needs
	NMSWindowSize     int     `json:"win-size"`           // half size of the window for non-maximum suppression
	MaxCandidates     int     `json:"max-candidates"`     // strongest candidates kept after non-maximum suppression
	RingRadius        float64 `json:"ring-radius"`        // radius of the circle sampled around a candidate
	RingSamples       int     `json:"ring-samples"`       // number of samples on that circle
	MinRingContrast   float64 `json:"min-contrast"`       // minimum max-min intensity on the circle, in [0, 1]
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSigma:         1.5,
	RelativeThreshold: 0.1,
	NMSWindowSize:     3,
	MaxCandidates:     2000,
	RingRadius:        5,
	RingSamples:       32,
	MinRingContrast:   0.25,
}

// SaddlePoint is a corner candidate and its saddle response.
type SaddlePoint struct {
	Point r2.Point
	Score float64
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense containing
// the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
	kxx := rimage.GetSecondDerivativeXX()
	kyy := rimage.GetSecondDerivativeYY()
	kxy := rimage.GetSecondDerivativeXY()
	gXX, err := rimage.ConvolveGrayFloat64(img, &kxx)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(img, &kyy)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(img, &kxy)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// GetSaddleMap returns the saddle map of a blurred luminance image: the negative determinant of the Hessian,
// with every non-saddle pixel set to 0.
func GetSaddleMap(img *mat.Dense) (*mat.Dense, error) {
	hessian, err := computePixelWiseHessianDeterminant(img)
	if err != nil {
		return nil, err
	}
	// saddle points are points where determinant of hessian is <0
	// for better readability, using negative determinant of Hessian
	hessian.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return 0
		}
		return -v
	}, hessian)
	return hessian, nil
}

// NonMaxSuppression returns the pixels of img that are strictly positive, at least thresh, and the maximum of their
// (2*winSize+1) square neighborhood. Ties keep the first pixel in row-major order.
func NonMaxSuppression(img *mat.Dense, winSize int, thresh float64) []image.Point {
	h, w := img.Dims()
	points := make([]image.Point, 0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := img.At(y, x)
			if v <= 0 || v < thresh {
				continue
			}
			if isLocalMax(img, x, y, winSize) {
				points = append(points, image.Point{x, y})
			}
		}
	}
	return points
}

func isLocalMax(img *mat.Dense, x, y, winSize int) bool {
	h, w := img.Dims()
	v := img.At(y, x)
	for ny := max(0, y-winSize); ny <= min(h-1, y+winSize); ny++ {
		for nx := max(0, x-winSize); nx <= min(w-1, x+winSize); nx++ {
			nv := img.At(ny, nx)
			if nv > v {
				return false
			}
			if nv == v && (ny < y || (ny == y && nx < x)) {
				return false
			}
		}
	}
	return true
}

// GetSaddlePoints finds the chessboard corner candidates of a blurred luminance image normalized to [0, 1].
// Candidates are ordered by decreasing saddle response.
func GetSaddlePoints(img *mat.Dense, conf *SaddleConfiguration) ([]SaddlePoint, error) {
	saddleMap, err := GetSaddleMap(img)
	if err != nil {
		return nil, err
	}
	peak := mat.Max(saddleMap)
	if peak <= 0 {
		return nil, nil
	}
	nms := NonMaxSuppression(saddleMap, conf.NMSWindowSize, conf.RelativeThreshold*peak)
	candidates := make([]SaddlePoint, 0, len(nms))
	for _, p := range nms {
		candidates = append(candidates, SaddlePoint{
			Point: r2.Point{X: float64(p.X), Y: float64(p.Y)},
			Score: saddleMap.At(p.Y, p.X),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if conf.MaxCandidates > 0 && len(candidates) > conf.MaxCandidates {
		candidates = candidates[:conf.MaxCandidates]
	}

	verified := candidates[:0]
	for _, c := range candidates {
		if IsXJunction(img, c.Point, conf) {
			verified = append(verified, c)
		}
	}
	return verified, nil
}

// IsXJunction samples a circle around pt and reports whether it crosses exactly four dark/bright boundaries with
// enough contrast, which is what the crossing of two chessboard edges looks like. Plain edges give two boundaries
// and the outer corners of the board give two as well.
func IsXJunction(img *mat.Dense, pt r2.Point, conf *SaddleConfiguration) bool {
	n := conf.RingSamples
	if n < 8 {
		n = 8
	}
	samples := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range samples {
		angle := 2 * math.Pi * float64(i) / float64(n)
		v := rimage.Bilinear(img, pt.X+conf.RingRadius*math.Cos(angle), pt.Y+conf.RingRadius*math.Sin(angle))
		samples[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < conf.MinRingContrast {
		return false
	}
	mid := (hi + lo) / 2

	// count transitions and the length of every run between them
	start := 0
	for start < n && (samples[start] > mid) == (samples[n-1] > mid) {
		start++
	}
	if start == n {
		return false
	}
	minRun := max(1, n/16)
	transitions := 0
	run := 0
	for k := 0; k < n; k++ {
		i := (start + k) % n
		prev := (start + k - 1 + n) % n
		if k > 0 && (samples[i] > mid) != (samples[prev] > mid) {
			if run < minRun {
				return false
			}
			transitions++
			run = 0
		}
		run++
	}
	if run < minRun {
		return false
	}
	// the wrap-around back to start is the last transition
	transitions++
	return transitions == 4
}
