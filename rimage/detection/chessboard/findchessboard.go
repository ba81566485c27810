// Package chessboard locates the inner corners of a chessboard calibration target in an image.
package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage"
)

// ErrNotFound is returned when the full grid of inner corners cannot be located.
var ErrNotFound = errors.New("chessboard not found")

// Corners are the inner corners of a board in pixel coordinates, row-major with pattern.Geometry.Cols points per
// row. Corner i corresponds to pattern.Geometry.ObjectPoints()[i].
type Corners []r2.Point

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle SaddleConfiguration `json:"saddle"`
	Refine RefineConfiguration `json:"refine"`
	Grid   GridConfiguration   `json:"grid"`
}

// DefaultDetectionConfiguration returns the detection parameters used when none are given.
func DefaultDetectionConfiguration() *DetectionConfiguration {
	return &DetectionConfiguration{
		Saddle: DefaultSaddleConf,
		Refine: DefaultRefineConf,
		Grid:   DefaultGridConf,
	}
}

// FindCorners finds the geom.Cols x geom.Rows inner corners of a chessboard with sub-pixel accuracy.
// The image is reduced to normalized luminance, corner candidates are the saddle points of the blurred image that
// look like X-junctions, and the candidates are refined and assembled into the board lattice.
func FindCorners(img image.Image, geom pattern.Geometry, cfg *DetectionConfiguration) (Corners, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultDetectionConfiguration()
	}
	lum, err := rimage.Luminance(img)
	if err != nil {
		return nil, errors.Wrap(ErrNotFound, err.Error())
	}
	if !rimage.NormalizeMinMax(lum) {
		return nil, errors.Wrap(ErrNotFound, "image has no contrast")
	}
	blurred := rimage.GaussianBlur(lum, cfg.Saddle.BlurSigma)

	candidates, err := GetSaddlePoints(blurred, &cfg.Saddle)
	if err != nil {
		return nil, err
	}
	refined := make([]r2.Point, 0, len(candidates))
	for _, c := range candidates {
		p := RefineCorner(blurred, c.Point, &cfg.Refine)
		if !isDuplicate(refined, p, 1.5) {
			refined = append(refined, p)
		}
	}

	grid, err := AssembleGrid(refined, geom.Cols, geom.Rows, &cfg.Grid)
	if err != nil {
		return nil, err
	}
	offset := r2.Point{X: float64(img.Bounds().Min.X), Y: float64(img.Bounds().Min.Y)}
	corners := make(Corners, len(grid))
	for i, p := range grid {
		corners[i] = p.Add(offset)
	}
	return corners, nil
}

// isDuplicate reports whether p is within dist of a point already kept. Candidates arrive strongest first.
func isDuplicate(kept []r2.Point, p r2.Point, dist float64) bool {
	for _, k := range kept {
		if k.Sub(p).Norm() < dist {
			return true
		}
	}
	return false
}
