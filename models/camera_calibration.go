package models

import (
	"context"
	"sync"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"github.com/viam-modules/chessboard-calibration/calibration"
	"github.com/viam-modules/chessboard-calibration/pattern"
)

// CameraCalibration is the model of the calibration service.
var CameraCalibration = resource.NewModel("viam", "opencv", "camera-calibration")

func init() {
	resource.RegisterService(generic.API, CameraCalibration,
		resource.Registration[resource.Resource, *CalibrationConfig]{
			Constructor: newCameraCalibration,
		},
	)
}

type calibrationSettings struct {
	geom        pattern.Geometry
	parallelism int
}

type cameraCalibration struct {
	resource.Named
	resource.TriviallyCloseable

	logger logging.Logger

	mu       sync.Mutex
	settings calibrationSettings
}

func newCameraCalibration(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	svc := &cameraCalibration{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
	}
	if err := svc.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}
	return svc, nil
}

func (svc *cameraCalibration) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	newConf, err := resource.NativeConfig[*CalibrationConfig](conf)
	if err != nil {
		return err
	}
	geom, err := newConf.Geometry()
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.settings = calibrationSettings{geom: geom, parallelism: newConf.Parallelism}
	return nil
}

func (svc *cameraCalibration) current() calibrationSettings {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.settings
}

// DoCommand supports {"calibrate_camera": {"images": [...]}} and {"get_config": {}}.
func (svc *cameraCalibration) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	parsed, err := parseCommand(cmd)
	if err != nil {
		svc.logger.Errorf("unknown command: %v", err)
		return nil, err
	}
	settings := svc.current()

	switch c := parsed.(type) {
	case calibrateCameraCommand:
		if c.parseErr != "" {
			return failure(c.parseErr), nil
		}
		svc.logger.Infof("starting camera calibration with %d images", len(c.images))
		res, err := calibration.CalibrateImages(ctx, c.images, settings.geom, svc.logger,
			calibration.WithParallelism(settings.parallelism))
		if err != nil {
			svc.logger.Errorf("camera calibration failed: %v", err)
			return failure(err.Error()), nil
		}
		svc.logger.Infof("calibration complete with RMS error %.6f, mean reprojection error %.6f",
			res.RMSError, res.ReprojectionError)
		return res.ToMap(), nil
	case getConfigCommand:
		return map[string]interface{}{
			patternSizeAttr: []interface{}{settings.geom.Cols, settings.geom.Rows},
			squareSizeAttr:  settings.geom.SquareSize,
		}, nil
	default:
		return nil, errUnimplemented
	}
}

func failure(msg string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   msg,
	}
}
