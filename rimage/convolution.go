package rimage

import (
	"image"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// Kernel is a convolution filter. Content is indexed [row][column].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// At returns the kernel weight at column x and row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Size returns the kernel dimensions.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// GetSecondDerivativeXX returns the central difference kernel for d²/dx².
func GetSecondDerivativeXX() Kernel {
	return Kernel{[][]float64{
		{0, 0, 0},
		{1, -2, 1},
		{0, 0, 0},
	}, 3, 3}
}

// GetSecondDerivativeYY returns the central difference kernel for d²/dy².
func GetSecondDerivativeYY() Kernel {
	return Kernel{[][]float64{
		{0, 1, 0},
		{0, -2, 0},
		{0, 1, 0},
	}, 3, 3}
}

// GetSecondDerivativeXY returns the central difference kernel for d²/dxdy.
func GetSecondDerivativeXY() Kernel {
	return Kernel{[][]float64{
		{0.25, 0, -0.25},
		{0, 0, 0},
		{-0.25, 0, 0.25},
	}, 3, 3}
}

// ConvolveGrayFloat64 applies filter to a float64 gray image, anchored at the kernel center.
// Pixels outside the image replicate the nearest border pixel. There is no clamping of the output.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	size := filter.Size()
	if size.X <= 0 || size.Y <= 0 || len(filter.Content) != size.Y {
		return nil, errors.Errorf("malformed kernel of size %v", size)
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	anchor := image.Point{size.X / 2, size.Y / 2}
	parallelRows(h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for ky := 0; ky < size.Y; ky++ {
				py := clampInt(y+ky-anchor.Y, 0, h-1)
				for kx := 0; kx < size.X; kx++ {
					kE := filter.At(kx, ky)
					if kE == 0 {
						continue
					}
					sum += m.At(py, clampInt(x+kx-anchor.X, 0, w-1)) * kE
				}
			}
			result.Set(y, x, sum)
		}
	})
	return result, nil
}

// parallelRows runs f once for every row index in [0, h), splitting the rows across GOMAXPROCS
// goroutines. f must only write to its own row.
func parallelRows(h int, f func(y int)) {
	procs := min(runtime.GOMAXPROCS(0), h)
	if procs <= 1 {
		for y := 0; y < h; y++ {
			f(y)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(procs)
	band := (h + procs - 1) / procs
	for i := 0; i < procs; i++ {
		start, end := i*band, min((i+1)*band, h)
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			for y := start; y < end; y++ {
				f(y)
			}
		})
	}
	wg.Wait()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
