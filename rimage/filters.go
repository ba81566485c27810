package rimage

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// GaussianFunction1D takes in a sigma and returns a gaussian function useful for weighing averages or blurring.
func GaussianFunction1D(sigma float64) func(p float64) float64 {
	if sigma <= 0. {
		return func(p float64) float64 {
			return 1.
		}
	}
	return func(p float64) float64 {
		return math.Exp(-0.5*p*p/(sigma*sigma)) / (sigma * math.Sqrt(2.*math.Pi))
	}
}

// GaussianKernel1D returns a normalized 1D gaussian kernel covering three sigma on each side.
func GaussianKernel1D(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	gaus := GaussianFunction1D(sigma)
	kernel := make([]float64, 2*radius+1)
	sum := 0.
	for i := range kernel {
		kernel[i] = gaus(float64(i - radius))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur returns a blurred copy of m using a separable gaussian with the given sigma.
// Borders replicate the nearest pixel.
func GaussianBlur(m *mat.Dense, sigma float64) *mat.Dense {
	h, w := m.Dims()
	kernel := GaussianKernel1D(sigma)
	radius := len(kernel) / 2

	horizontal := mat.NewDense(h, w, nil)
	parallelRows(h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for i, k := range kernel {
				sum += k * m.At(y, clampInt(x+i-radius, 0, w-1))
			}
			horizontal.Set(y, x, sum)
		}
	})

	out := mat.NewDense(h, w, nil)
	parallelRows(h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for i, k := range kernel {
				sum += k * horizontal.At(clampInt(y+i-radius, 0, h-1), x)
			}
			out.Set(y, x, sum)
		}
	})
	return out
}

// Bilinear samples m at the sub-pixel location (x, y). Coordinates outside the image are clamped
// to the border.
func Bilinear(m *mat.Dense, x, y float64) float64 {
	h, w := m.Dims()
	x = math.Max(0, math.Min(x, float64(w-1)))
	y = math.Max(0, math.Min(y, float64(h-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)
	top := m.At(y0, x0)*(1-fx) + m.At(y0, x1)*fx
	bottom := m.At(y1, x0)*(1-fx) + m.At(y1, x1)*fx
	return top*(1-fy) + bottom*fy
}
