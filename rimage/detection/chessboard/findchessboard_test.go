package chessboard

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage/projection"
	"github.com/viam-modules/chessboard-calibration/testutils"
)

// accurateSupersample renders edges finely enough that the projected corners are exact to a few hundredths of
// a pixel.
const accurateSupersample = 16

func maxCornerError(got Corners, want []r2.Point) float64 {
	worst := 0.
	for i := range want {
		worst = math.Max(worst, got[i].Sub(want[i]).Norm())
	}
	return worst
}

func TestFindCornersFrontoParallel(t *testing.T) {
	scene := testutils.Scene{
		Geometry:    testutils.TestGeometry,
		Intrinsics:  testutils.TestIntrinsics,
		Pose:        testutils.BoardPose(testutils.TestGeometry, r3.Vector{}, 450, r3.Vector{X: 3.3, Y: -1.7}),
		Supersample: accurateSupersample,
	}
	corners, err := FindCorners(scene.Render(), scene.Geometry, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(corners), test.ShouldEqual, 54)
	test.That(t, maxCornerError(corners, scene.Corners()), test.ShouldBeLessThan, 0.1)
}

func TestFindCornersTilted(t *testing.T) {
	for _, pose := range testutils.CalibrationPoses(testutils.TestGeometry) {
		scene := testutils.Scene{
			Geometry:    testutils.TestGeometry,
			Intrinsics:  testutils.TestIntrinsics,
			Pose:        pose,
			Supersample: accurateSupersample,
		}
		corners, err := FindCorners(scene.Render(), scene.Geometry, DefaultDetectionConfiguration())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, maxCornerError(corners, scene.Corners()), test.ShouldBeLessThan, 0.15)
	}
}

func TestFindCornersUpsideDown(t *testing.T) {
	// the board turned half a turn reads the same way, so the order is reversed relative to the object points
	scene := testutils.Scene{
		Geometry:    testutils.TestGeometry,
		Intrinsics:  testutils.TestIntrinsics,
		Pose:        testutils.BoardPose(testutils.TestGeometry, r3.Vector{Z: math.Pi}, 450, r3.Vector{}),
		Supersample: accurateSupersample,
	}
	corners, err := FindCorners(scene.Render(), scene.Geometry, nil)
	test.That(t, err, test.ShouldBeNil)
	want := scene.Corners()
	for i := range want {
		test.That(t, corners[i].Sub(want[len(want)-1-i]).Norm(), test.ShouldBeLessThan, 0.1)
	}
	// first row runs left to right, rows go down
	test.That(t, corners[1].X, test.ShouldBeGreaterThan, corners[0].X)
	test.That(t, corners[9].Y, test.ShouldBeGreaterThan, corners[0].Y)
}

func TestFindCornersSquareBoard(t *testing.T) {
	geom := pattern.Geometry{Cols: 5, Rows: 5, SquareSize: 30}
	scene := testutils.Scene{
		Geometry:    geom,
		Intrinsics:  testutils.TestIntrinsics,
		Pose:        testutils.BoardPose(geom, r3.Vector{Z: math.Pi / 2}, 400, r3.Vector{}),
		Supersample: accurateSupersample,
	}
	corners, err := FindCorners(scene.Render(), geom, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(corners), test.ShouldEqual, 25)
	test.That(t, corners[1].X, test.ShouldBeGreaterThan, corners[0].X)
	test.That(t, corners[5].Y, test.ShouldBeGreaterThan, corners[0].Y)
	// every detected corner is one of the true corners
	want := scene.Corners()
	for _, c := range corners {
		best := math.Inf(1)
		for _, w := range want {
			best = math.Min(best, c.Sub(w).Norm())
		}
		test.That(t, best, test.ShouldBeLessThan, 0.1)
	}
}

func TestFindCornersWithDistortion(t *testing.T) {
	scene := testutils.Scene{
		Geometry:    testutils.TestGeometry,
		Intrinsics:  testutils.TestIntrinsics,
		Distortion:  &projection.RationalDistortion{K1: -0.05, K2: 0.01},
		Pose:        testutils.BoardPose(testutils.TestGeometry, r3.Vector{X: 0.1, Y: 0.15}, 480, r3.Vector{}),
		Supersample: accurateSupersample,
	}
	corners, err := FindCorners(scene.Render(), scene.Geometry, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxCornerError(corners, scene.Corners()), test.ShouldBeLessThan, 0.15)
}

func TestFindCornersNotFound(t *testing.T) {
	blank := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	_, err := FindCorners(blank, testutils.TestGeometry, nil)
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	_, err = FindCorners(image.NewNRGBA(image.Rectangle{}), testutils.TestGeometry, nil)
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	// a different board is in view
	scene := testutils.Scene{
		Geometry:   pattern.Geometry{Cols: 7, Rows: 5, SquareSize: 25},
		Intrinsics: testutils.TestIntrinsics,
	}
	scene.Pose = testutils.BoardPose(scene.Geometry, r3.Vector{}, 450, r3.Vector{})
	_, err = FindCorners(scene.Render(), testutils.TestGeometry, nil)
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	_, err = FindCorners(blank, pattern.Geometry{Cols: 1, Rows: 5, SquareSize: 1}, nil)
	test.That(t, errors.Is(err, pattern.ErrInvalidGeometry), test.ShouldBeTrue)
}

func TestFindCornersOffsetBounds(t *testing.T) {
	scene := testutils.Scene{
		Geometry:    testutils.TestGeometry,
		Intrinsics:  testutils.TestIntrinsics,
		Pose:        testutils.BoardPose(testutils.TestGeometry, r3.Vector{}, 450, r3.Vector{}),
		Supersample: accurateSupersample,
	}
	img := scene.Render()
	shifted := &image.NRGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect.Add(image.Point{100, 50})}
	corners, err := FindCorners(shifted, scene.Geometry, nil)
	test.That(t, err, test.ShouldBeNil)
	want := scene.Corners()
	test.That(t, corners[0].X, test.ShouldAlmostEqual, want[0].X+100, 0.1)
	test.That(t, corners[0].Y, test.ShouldAlmostEqual, want[0].Y+50, 0.1)
}

// squareImage draws a single dark square on a white background.
func squareImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			v := uint8(255)
			if x >= 10 && x < 30 && y >= 10 && y < 30 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{v})
		}
	}
	return img
}

// checkerImage draws two dark quadrants meeting at (20, 20).
func checkerImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			v := uint8(255)
			if (x < 20) == (y < 20) {
				v = 0
			}
			img.SetGray(x, y, color.Gray{v})
		}
	}
	return img
}

func TestIsXJunction(t *testing.T) {
	conf := DefaultSaddleConf
	lum, err := blurredLuminance(checkerImage(), conf.BlurSigma)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, IsXJunction(lum, r2.Point{X: 19.5, Y: 19.5}, &conf), test.ShouldBeTrue)
	// along an edge of the checker
	test.That(t, IsXJunction(lum, r2.Point{X: 19.5, Y: 8}, &conf), test.ShouldBeFalse)
	// in a flat area
	test.That(t, IsXJunction(lum, r2.Point{X: 8, Y: 8}, &conf), test.ShouldBeFalse)

	lum, err = blurredLuminance(squareImage(), conf.BlurSigma)
	test.That(t, err, test.ShouldBeNil)
	// the outer corner of a square is an L, not an X
	test.That(t, IsXJunction(lum, r2.Point{X: 9.5, Y: 9.5}, &conf), test.ShouldBeFalse)
}

func TestGetSaddlePoints(t *testing.T) {
	conf := DefaultSaddleConf
	lum, err := blurredLuminance(checkerImage(), conf.BlurSigma)
	test.That(t, err, test.ShouldBeNil)
	pts, err := GetSaddlePoints(lum, &conf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 1)
	test.That(t, pts[0].Point.X, test.ShouldAlmostEqual, 19.5, 1)
	test.That(t, pts[0].Point.Y, test.ShouldAlmostEqual, 19.5, 1)

	refined := RefineCorner(lum, pts[0].Point, &DefaultRefineConf)
	test.That(t, refined.X, test.ShouldAlmostEqual, 19.5, 0.01)
	test.That(t, refined.Y, test.ShouldAlmostEqual, 19.5, 0.01)

	lum, err = blurredLuminance(squareImage(), conf.BlurSigma)
	test.That(t, err, test.ShouldBeNil)
	pts, err = GetSaddlePoints(lum, &conf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts, test.ShouldBeEmpty)
}
