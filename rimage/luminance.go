package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Luminance converts an image to a matrix of luminance values in [0, 1], indexed (y, x)
// relative to the image bounds.
func Luminance(img image.Image) (*mat.Dense, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("image has no pixels")
	}
	gray := imaging.Grayscale(img)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			data[y*w+x] = float64(row[4*x]) / 255.
		}
	}
	return mat.NewDense(h, w, data), nil
}

// NormalizeMinMax stretches the values of m in place so they span [0, 1]. It returns false, and
// leaves m untouched, when m has no contrast to stretch.
func NormalizeMinMax(m *mat.Dense) bool {
	raw := m.RawMatrix()
	if raw.Rows == 0 || raw.Cols == 0 {
		return false
	}
	lo, hi := m.At(0, 0), m.At(0, 0)
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		lo = min(lo, floats.Min(row))
		hi = max(hi, floats.Max(row))
	}
	span := hi - lo
	if span < 1e-9 {
		return false
	}
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		floats.AddConst(-lo, row)
		floats.Scale(1/span, row)
	}
	return true
}
