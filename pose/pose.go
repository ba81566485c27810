// Package pose estimates the pose of a chessboard relative to a calibrated camera from a single image.
package pose

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/floats"

	"github.com/viam-modules/chessboard-calibration/lsq"
	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage/detection/chessboard"
	"github.com/viam-modules/chessboard-calibration/rimage/projection"
)

// TranslationScale converts the solved translation to the reported unit.
const TranslationScale = 1000

// ErrSolveFailed is returned when no finite pose in front of the camera explains the detected corners.
var ErrSolveFailed = errors.New("pose solve failed")

// Estimate is the pose of the board in the camera frame, as solved.
type Estimate struct {
	// Rotation is a rotation vector in radians taking board coordinates into the camera frame.
	Rotation    r3.Vector
	Translation r3.Vector
	// RMS is the root mean square pixel reprojection error of the corners.
	RMS     float64
	Corners chessboard.Corners
}

// Solve finds the board in img and solves for its pose given the camera intrinsics and distortion. A nil dist
// means an ideal pinhole camera.
func Solve(
	img image.Image,
	geom pattern.Geometry,
	intr *transform.PinholeCameraIntrinsics,
	dist *projection.RationalDistortion,
	cfg *chessboard.DetectionConfiguration,
) (*Estimate, error) {
	if err := checkIntrinsics(intr); err != nil {
		return nil, err
	}
	corners, err := chessboard.FindCorners(img, geom, cfg)
	if err != nil {
		return nil, err
	}
	est, err := SolvePnP(geom.ObjectPoints(), corners, intr, dist)
	if err != nil {
		return nil, err
	}
	est.Corners = corners
	return est, nil
}

// SolvePnP solves for the pose of planar (Z=0) object points from their pixel projections. The pose is
// initialized from the homography between the board plane and the undistorted corners and then refined to
// minimize the pixel reprojection error.
func SolvePnP(
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	intr *transform.PinholeCameraIntrinsics,
	dist *projection.RationalDistortion,
) (*Estimate, error) {
	if err := checkIntrinsics(intr); err != nil {
		return nil, err
	}
	if len(objectPoints) != len(imagePoints) {
		return nil, errors.Errorf("%d object points for %d image points", len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) < 4 {
		return nil, errors.Wrapf(ErrSolveFailed, "need at least 4 points, got %d", len(objectPoints))
	}

	plane := make([]r2.Point, len(objectPoints))
	normalized := make([]r2.Point, len(imagePoints))
	for i, p := range objectPoints {
		plane[i] = r2.Point{X: p.X, Y: p.Y}
		normalized[i] = projection.NormalizePixel(imagePoints[i], intr, dist)
	}
	h, err := projection.EstimateHomography(plane, normalized)
	if err != nil {
		return nil, errors.Wrap(ErrSolveFailed, err.Error())
	}
	initial, err := projection.DecomposePlanarHomography(h)
	if err != nil {
		return nil, errors.Wrap(ErrSolveFailed, err.Error())
	}

	problem := lsq.Problem{
		M: 2 * len(objectPoints),
		Func: func(dst, x []float64) {
			residuals(dst, x, objectPoints, imagePoints, intr, dist)
		},
	}
	x0 := []float64{
		initial.Rotation.X, initial.Rotation.Y, initial.Rotation.Z,
		initial.Translation.X, initial.Translation.Y, initial.Translation.Z,
	}
	res, err := lsq.LevenbergMarquardt(problem, x0, nil)
	if err != nil {
		return nil, errors.Wrap(ErrSolveFailed, err.Error())
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrap(ErrSolveFailed, "solution is not finite")
		}
	}
	ext := extrinsics(res.X)
	if ext.Translation.Z <= 0 {
		return nil, errors.Wrap(ErrSolveFailed, "board is behind the camera")
	}
	return &Estimate{
		Rotation:    ext.Rotation,
		Translation: ext.Translation,
		RMS:         math.Sqrt(floats.Dot(res.Residuals, res.Residuals) / float64(len(objectPoints))),
	}, nil
}

func checkIntrinsics(intr *transform.PinholeCameraIntrinsics) error {
	if intr == nil {
		return errors.New("camera intrinsics are required")
	}
	if intr.Fx <= 0 || intr.Fy <= 0 {
		return errors.Errorf("invalid focal lengths (%v, %v)", intr.Fx, intr.Fy)
	}
	return nil
}

func extrinsics(x []float64) projection.Extrinsics {
	return projection.Extrinsics{
		Rotation:    r3.Vector{X: x[0], Y: x[1], Z: x[2]},
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

func residuals(
	dst, x []float64,
	objectPoints []r3.Vector,
	imagePoints []r2.Point,
	intr *transform.PinholeCameraIntrinsics,
	dist *projection.RationalDistortion,
) {
	projected := projection.ProjectPoints(objectPoints, extrinsics(x), intr, dist)
	for i, p := range projected {
		dst[2*i] = p.X - imagePoints[i].X
		dst[2*i+1] = p.Y - imagePoints[i].Y
	}
}

// Pose converts the estimate to a spatialmath.Pose. The orientation is the board's rotation in the camera frame
// and the translation is multiplied by TranslationScale.
func (e *Estimate) Pose() (spatialmath.Pose, error) {
	// spatialmath.NewRotationMatrix reads its slice column-major, so the row-major transpose yields R itself.
	rot := projection.RotationFromVector(e.Rotation).Transpose()
	orientation, err := spatialmath.NewRotationMatrix(rot[:])
	if err != nil {
		return nil, errors.Wrap(ErrSolveFailed, err.Error())
	}
	return spatialmath.NewPose(e.Translation.Mul(TranslationScale), orientation), nil
}

// PoseInFrame anchors the pose in the named reference frame, usually the camera's.
func (e *Estimate) PoseInFrame(frame string) (*referenceframe.PoseInFrame, error) {
	p, err := e.Pose()
	if err != nil {
		return nil, err
	}
	return referenceframe.NewPoseInFrame(frame, p), nil
}
