// Package pattern describes the physical chessboard calibration target.
package pattern

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned when a board description cannot describe a real chessboard.
var ErrInvalidGeometry = errors.New("invalid chessboard geometry")

// Geometry is the inner-corner layout of a chessboard and the edge length of one square.
// Cols is the number of inner corners per row, Rows the number of rows of inner corners.
type Geometry struct {
	Cols       int
	Rows       int
	SquareSize float64
}

// NewGeometry builds a validated Geometry from a [cols, rows] pair and a square size.
func NewGeometry(size []int, squareSize float64) (Geometry, error) {
	if len(size) != 2 {
		return Geometry{}, errors.Wrapf(ErrInvalidGeometry, "pattern size needs exactly 2 values, got %d", len(size))
	}
	g := Geometry{Cols: size[0], Rows: size[1], SquareSize: squareSize}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// Validate checks that the board has at least a 2x2 grid of inner corners and a positive square size.
func (g Geometry) Validate() error {
	if g.Cols < 2 || g.Rows < 2 {
		return errors.Wrapf(ErrInvalidGeometry, "pattern size must be at least 2x2, got %dx%d", g.Cols, g.Rows)
	}
	if !(g.SquareSize > 0) {
		return errors.Wrapf(ErrInvalidGeometry, "square size must be positive, got %v", g.SquareSize)
	}
	return nil
}

// NumCorners is the number of inner corners on the board.
func (g Geometry) NumCorners() int {
	return g.Cols * g.Rows
}

// ObjectPoints returns the board's inner corners in board coordinates, row-major with Cols
// points per row. The board lies in the Z=0 plane with the first corner at the origin.
func (g Geometry) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, g.NumCorners())
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			pts = append(pts, r3.Vector{
				X: float64(col) * g.SquareSize,
				Y: float64(row) * g.SquareSize,
			})
		}
	}
	return pts
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d@%gmm", g.Cols, g.Rows, g.SquareSize)
}
