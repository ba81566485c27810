package calibration

import (
	"context"
	"image"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/test"

	"github.com/viam-modules/chessboard-calibration/rimage/projection"
	"github.com/viam-modules/chessboard-calibration/testutils"
)

var (
	trueIntrinsics = &transform.PinholeCameraIntrinsics{
		Width: 640, Height: 480, Fx: 600, Fy: 610, Ppx: 322, Ppy: 238,
	}
	trueDistortion = &projection.RationalDistortion{K1: -0.1, K2: 0.02, P1: 0.001, P2: -0.0005}
)

func syntheticViews() []View {
	geom := testutils.TestGeometry
	views := []View{}
	for _, pose := range testutils.CalibrationPoses(geom) {
		views = append(views, View{
			ImagePoints:  projection.ProjectPoints(geom.ObjectPoints(), pose, trueIntrinsics, trueDistortion),
			ObjectPoints: geom.ObjectPoints(),
		})
	}
	return views
}

func TestCalibrateRecoversCamera(t *testing.T) {
	logger := logging.NewTestLogger(t)
	res, err := Calibrate(context.Background(), syntheticViews(), image.Point{640, 480}, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, res.Intrinsics.Fx, test.ShouldAlmostEqual, trueIntrinsics.Fx, 0.5)
	test.That(t, res.Intrinsics.Fy, test.ShouldAlmostEqual, trueIntrinsics.Fy, 0.5)
	test.That(t, res.Intrinsics.Ppx, test.ShouldAlmostEqual, trueIntrinsics.Ppx, 0.5)
	test.That(t, res.Intrinsics.Ppy, test.ShouldAlmostEqual, trueIntrinsics.Ppy, 0.5)
	test.That(t, res.Intrinsics.Width, test.ShouldEqual, 640)
	test.That(t, res.Intrinsics.Height, test.ShouldEqual, 480)
	test.That(t, res.RMSError, test.ShouldBeLessThan, 1e-3)
	test.That(t, res.ReprojectionError, test.ShouldBeLessThan, 1e-3)
	test.That(t, res.NumImages, test.ShouldEqual, 6)
	test.That(t, len(res.PerViewErrors), test.ShouldEqual, 6)
	test.That(t, len(res.Extrinsics), test.ShouldEqual, 6)

	// the lens model may trade coefficients, but it must bend points the same way over the field of view
	for _, pt := range [][2]float64{{0, 0}, {0.3, 0.2}, {-0.35, 0.25}, {0.2, -0.3}} {
		wantX, wantY := trueDistortion.Transform(pt[0], pt[1])
		gotX, gotY := res.Distortion.Transform(pt[0], pt[1])
		test.That(t, gotX, test.ShouldAlmostEqual, wantX, 1e-3)
		test.That(t, gotY, test.ShouldAlmostEqual, wantY, 1e-3)
	}

	want := testutils.CalibrationPoses(testutils.TestGeometry)[2]
	test.That(t, res.Extrinsics[2].Translation.Z, test.ShouldAlmostEqual, want.Translation.Z, 1)
	test.That(t, res.Extrinsics[2].Rotation.X, test.ShouldAlmostEqual, want.Rotation.X, 1e-2)
}

func TestCalibrateInsufficientData(t *testing.T) {
	logger := logging.NewTestLogger(t)
	views := syntheticViews()
	_, err := Calibrate(context.Background(), views[:2], image.Point{640, 480}, logger)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "got 2")

	_, err = Calibrate(context.Background(), nil, image.Point{640, 480}, logger)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
}

func TestCalibrateBadInput(t *testing.T) {
	logger := logging.NewTestLogger(t)
	views := syntheticViews()
	views[1].ObjectPoints = views[1].ObjectPoints[:10]
	_, err := Calibrate(context.Background(), views, image.Point{640, 480}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Calibrate(context.Background(), syntheticViews(), image.Point{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	// coincident board points give no homography
	degenerate := syntheticViews()[:3]
	for i := range degenerate {
		degenerate[i].ObjectPoints = make([]r3.Vector, len(degenerate[i].ImagePoints))
	}
	_, err = Calibrate(context.Background(), degenerate, image.Point{640, 480}, logger)
	test.That(t, errors.Is(err, ErrSolveFailed), test.ShouldBeTrue)
}

func TestCalibrateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Calibrate(ctx, syntheticViews(), image.Point{640, 480}, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestResultToMap(t *testing.T) {
	res := &Result{
		Intrinsics:        &transform.PinholeCameraIntrinsics{Fx: 1, Fy: 2, Ppx: 3, Ppy: 4},
		Distortion:        &projection.RationalDistortion{K1: 5, K2: 6, P1: 7, P2: 8, K3: 9, K4: 10, K5: 11, K6: 12},
		RMSError:          0.25,
		ReprojectionError: 0.03,
		NumImages:         4,
		ImageSize:         image.Point{640, 480},
	}
	test.That(t, res.ToMap(), test.ShouldResemble, map[string]interface{}{
		"success":            true,
		"rms_error":          0.25,
		"reprojection_error": 0.03,
		"num_images":         4,
		"image_size":         map[string]interface{}{"width": 640, "height": 480},
		"camera_matrix":      map[string]interface{}{"fx": 1., "fy": 2., "cx": 3., "cy": 4.},
		"distortion_coefficients": map[string]interface{}{
			"k1": 5., "k2": 6., "p1": 7., "p2": 8., "k3": 9., "k4": 10., "k5": 11., "k6": 12.,
		},
	})
}

func TestResultString(t *testing.T) {
	res := &Result{
		Intrinsics:    &transform.PinholeCameraIntrinsics{Fx: 600.5, Fy: 610, Ppx: 320, Ppy: 240},
		Distortion:    &projection.RationalDistortion{K1: -0.1},
		RMSError:      0.125,
		NumImages:     2,
		ImageSize:     image.Point{640, 480},
		PerViewErrors: []float64{0.01, 0.02},
		Skipped:       []SkippedImage{{Index: 3, Err: errors.New("bad image")}},
	}
	out := res.String()
	test.That(t, out, test.ShouldContainSubstring, "600.500000")
	test.That(t, out, test.ShouldContainSubstring, "-0.100000")
	test.That(t, out, test.ShouldContainSubstring, "640x480")
	test.That(t, out, test.ShouldContainSubstring, "view 1 error")
	test.That(t, out, test.ShouldContainSubstring, "image 3 skipped")
	test.That(t, out, test.ShouldContainSubstring, "bad image")
	test.That(t, strings.Count(out, "\n"), test.ShouldBeGreaterThan, 15)
}
