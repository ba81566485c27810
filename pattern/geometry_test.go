package pattern

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestObjectPoints(t *testing.T) {
	g := Geometry{Cols: 9, Rows: 6, SquareSize: 25}
	pts := g.ObjectPoints()
	test.That(t, len(pts), test.ShouldEqual, 54)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{})
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{X: 25})
	test.That(t, pts[9], test.ShouldResemble, r3.Vector{Y: 25})
	test.That(t, pts[53], test.ShouldResemble, r3.Vector{X: 200, Y: 125})
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldEqual, 0)
	}

	// no shared state between calls
	pts[0].X = 1000
	test.That(t, g.ObjectPoints()[0].X, test.ShouldEqual, 0)
}

func TestObjectPointsSmallestBoard(t *testing.T) {
	g := Geometry{Cols: 2, Rows: 2, SquareSize: 1}
	test.That(t, g.ObjectPoints(), test.ShouldResemble, []r3.Vector{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1},
	})
}

func TestNewGeometry(t *testing.T) {
	g, err := NewGeometry([]int{9, 6}, 25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g, test.ShouldResemble, Geometry{Cols: 9, Rows: 6, SquareSize: 25})
	test.That(t, g.NumCorners(), test.ShouldEqual, 54)
	test.That(t, g.String(), test.ShouldEqual, "9x6@25mm")

	for _, tc := range []struct {
		size   []int
		square float64
	}{
		{[]int{9}, 25},
		{[]int{9, 6, 1}, 25},
		{[]int{1, 6}, 25},
		{[]int{9, 0}, 25},
		{[]int{9, 6}, 0},
		{[]int{9, 6}, -3},
	} {
		_, err := NewGeometry(tc.size, tc.square)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrInvalidGeometry), test.ShouldBeTrue)
	}
}
