package chessboard

import (
	"image"

	"gonum.org/v1/gonum/mat"

	"github.com/viam-modules/chessboard-calibration/rimage"
)

func blurredLuminance(img image.Image, sigma float64) (*mat.Dense, error) {
	lum, err := rimage.Luminance(img)
	if err != nil {
		return nil, err
	}
	rimage.NormalizeMinMax(lum)
	return rimage.GaussianBlur(lum, sigma), nil
}
