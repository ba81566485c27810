package projection

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var testIntrinsics = &transform.PinholeCameraIntrinsics{
	Width: 640, Height: 480, Fx: 800, Fy: 780, Ppx: 320, Ppy: 240,
}

func boardPoints(cols, rows int, square float64) []r3.Vector {
	pts := []r3.Vector{}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * square, Y: float64(r) * square})
		}
	}
	return pts
}

func TestProjectPoints(t *testing.T) {
	ext := Extrinsics{Translation: r3.Vector{X: 10, Y: -20, Z: 500}}
	px := ProjectPoints([]r3.Vector{{}, {X: 25}}, ext, testIntrinsics, nil)
	test.That(t, px[0].X, test.ShouldAlmostEqual, 320+800*10./500)
	test.That(t, px[0].Y, test.ShouldAlmostEqual, 240-780*20./500)
	test.That(t, px[1].X, test.ShouldAlmostEqual, 320+800*35./500)

	dist := &RationalDistortion{K1: 0.1, P1: 0.001}
	distorted := ProjectPoints([]r3.Vector{{X: 100, Y: 50}}, ext, testIntrinsics, dist)
	back := NormalizePixel(distorted[0], testIntrinsics, dist)
	test.That(t, back.X, test.ShouldAlmostEqual, 110./500, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, 30./500, 1e-9)
}

func TestEstimateHomography(t *testing.T) {
	want := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 30,
		-0.05, 0.9, 12,
		0.0004, -0.0002, 1,
	})
	src := []r2.Point{}
	dst := []r2.Point{}
	for _, p := range boardPoints(5, 4, 20) {
		s := r2.Point{X: p.X, Y: p.Y}
		src = append(src, s)
		dst = append(dst, ApplyHomography(want, s))
	}
	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, want.At(i, j), 1e-7)
		}
	}

	_, err = EstimateHomography(src[:3], dst[:3])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimateHomography(src, dst[:5])
	test.That(t, err, test.ShouldNotBeNil)
	same := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err = EstimateHomography(same, same)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecomposePlanarHomography(t *testing.T) {
	want := Extrinsics{
		Rotation:    r3.Vector{X: 0.3, Y: -0.2, Z: 0.1},
		Translation: r3.Vector{X: -50, Y: 20, Z: 600},
	}
	obj := boardPoints(6, 5, 25)
	src := make([]r2.Point, len(obj))
	dst := make([]r2.Point, len(obj))
	rot := RotationFromVector(want.Rotation)
	for i, p := range obj {
		c := rot.Apply(p).Add(want.Translation)
		src[i] = r2.Point{X: p.X, Y: p.Y}
		dst[i] = r2.Point{X: c.X / c.Z, Y: c.Y / c.Z}
	}
	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	got, err := DecomposePlanarHomography(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Rotation.X, test.ShouldAlmostEqual, want.Rotation.X, 1e-6)
	test.That(t, got.Rotation.Y, test.ShouldAlmostEqual, want.Rotation.Y, 1e-6)
	test.That(t, got.Rotation.Z, test.ShouldAlmostEqual, want.Rotation.Z, 1e-6)
	test.That(t, got.Translation.X, test.ShouldAlmostEqual, want.Translation.X, 1e-4)
	test.That(t, got.Translation.Y, test.ShouldAlmostEqual, want.Translation.Y, 1e-4)
	test.That(t, got.Translation.Z, test.ShouldAlmostEqual, want.Translation.Z, 1e-4)

	// an overall sign flip of H describes the same plane
	var neg mat.Dense
	neg.Scale(-1, h)
	flipped, err := DecomposePlanarHomography(&neg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, flipped.Translation.Z, test.ShouldAlmostEqual, want.Translation.Z, 1e-4)

	_, err = DecomposePlanarHomography(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
}
