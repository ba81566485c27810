package models

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/posetracker"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"

	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/pose"
	"github.com/viam-modules/chessboard-calibration/rimage/projection"
)

// Chessboard is the model of the chessboard pose tracker.
var Chessboard = resource.NewModel("viam", "opencv", "chessboard")

// PoseBodyName is the body the tracker reports the board pose under.
const PoseBodyName = "pose"

func init() {
	resource.RegisterComponent(posetracker.API, Chessboard,
		resource.Registration[posetracker.PoseTracker, *ChessboardConfig]{
			Constructor: newChessboard,
		},
	)
}

type chessboardSettings struct {
	cam                 camera.Camera
	cameraName          string
	geom                pattern.Geometry
	distortion          *projection.RationalDistortion
	useCameraDistortion bool
}

type chessboardTracker struct {
	resource.Named
	resource.TriviallyCloseable

	logger logging.Logger

	mu       sync.Mutex
	settings chessboardSettings
}

func newChessboard(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (posetracker.PoseTracker, error) {
	cb := &chessboardTracker{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
	}
	if err := cb.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}
	return cb, nil
}

func (cb *chessboardTracker) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	newConf, err := resource.NativeConfig[*ChessboardConfig](conf)
	if err != nil {
		return err
	}
	geom, err := newConf.Geometry()
	if err != nil {
		return err
	}
	dist, err := newConf.distortion()
	if err != nil {
		return err
	}
	cam, err := camera.FromDependencies(deps, newConf.CameraName)
	if err != nil {
		return err
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.settings = chessboardSettings{
		cam:                 cam,
		cameraName:          newConf.CameraName,
		geom:                geom,
		distortion:          dist,
		useCameraDistortion: newConf.UseCameraDistortion,
	}
	return nil
}

func (cb *chessboardTracker) current() chessboardSettings {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.settings
}

// Poses takes one image from the camera and returns the pose of the board in the camera's frame under
// PoseBodyName. Other body names are not tracked.
func (cb *chessboardTracker) Poses(
	ctx context.Context,
	bodyNames []string,
	extra map[string]interface{},
) (referenceframe.FrameSystemPoses, error) {
	if len(bodyNames) > 0 && !lo.Contains(bodyNames, PoseBodyName) {
		return referenceframe.FrameSystemPoses{}, nil
	}
	s := cb.current()

	img, err := camera.DecodeImageFromCamera(ctx, s.cam, nil, extra)
	if err != nil {
		cb.logger.Errorf("could not get latest image from camera: %v", err)
		return nil, errors.Wrap(err, "could not get latest image from camera")
	}
	props, err := s.cam.Properties(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not get camera properties")
	}
	if props.IntrinsicParams == nil {
		return nil, errors.Errorf("camera %q does not report intrinsic parameters", s.cameraName)
	}
	dist := s.distortion
	if s.useCameraDistortion {
		if dist, err = projection.FromDistorter(props.DistortionParams); err != nil {
			return nil, err
		}
	}
	cb.logger.Debugw("solving chessboard pose", "intrinsics", props.IntrinsicParams, "distortion", dist.Parameters())

	est, err := pose.Solve(img, s.geom, props.IntrinsicParams, dist, nil)
	if err != nil {
		cb.logger.Errorf("could not find chessboard pose: %v", err)
		return nil, err
	}
	cb.logger.Debugw("solved chessboard pose", "rvec", est.Rotation, "tvec", est.Translation, "rms", est.RMS)

	pif, err := est.PoseInFrame(s.cameraName)
	if err != nil {
		return nil, err
	}
	return referenceframe.FrameSystemPoses{PoseBodyName: pif}, nil
}

func (cb *chessboardTracker) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, errUnimplemented
}
