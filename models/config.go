// Package models implements the chessboard calibration resources: a generic service that calibrates camera
// intrinsics from uploaded images, and a pose tracker that reports the pose of a chessboard seen by a camera.
package models

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage/projection"
)

// Attribute names shared by both models.
const (
	patternSizeAttr = "pattern_size"
	squareSizeAttr  = "square_size_mm"
	cameraNameAttr  = "camera_name"
)

// PatternConfig describes the calibration target.
type PatternConfig struct {
	PatternSize  []int   `json:"pattern_size"`
	SquareSizeMM float64 `json:"square_size_mm"`
}

// Validate checks that the pattern attributes are present and describe a usable board.
func (cfg *PatternConfig) Validate(path string) error {
	var errs error
	if len(cfg.PatternSize) == 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, patternSizeAttr))
	}
	if cfg.SquareSizeMM == 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, squareSizeAttr))
	}
	if errs != nil {
		return errs
	}
	if _, err := cfg.Geometry(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// Geometry returns the board described by the attributes.
func (cfg *PatternConfig) Geometry() (pattern.Geometry, error) {
	return pattern.NewGeometry(cfg.PatternSize, cfg.SquareSizeMM)
}

// CalibrationConfig is the configuration of the camera-calibration service.
type CalibrationConfig struct {
	PatternConfig
	// Parallelism is how many images are searched at once. Zero searches them one at a time.
	Parallelism int `json:"parallelism,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *CalibrationConfig) Validate(path string) ([]string, []string, error) {
	errs := cfg.PatternConfig.Validate(path)
	if cfg.Parallelism < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
			errors.Errorf("parallelism must be non-negative, got %d", cfg.Parallelism)))
	}
	if errs != nil {
		return nil, nil, errs
	}
	return nil, nil, nil
}

// DefaultDistortion is the lens distortion assumed for the tracked camera, in k1, k2, p1, p2, k3 order.
var DefaultDistortion = []float64{
	0.11473497003316879,
	-0.31621694564819336,
	0.00024490756914019585,
	-0.0002616790879983455,
	0.2385278344154358,
}

// ChessboardConfig is the configuration of the chessboard pose tracker.
type ChessboardConfig struct {
	PatternConfig
	CameraName string `json:"camera_name"`
	// DistortionCoefficients overrides DefaultDistortion, in k1, k2, p1, p2, k3 order.
	DistortionCoefficients []float64 `json:"distortion_coefficients,omitempty"`
	// UseCameraDistortion uses the distortion the camera reports in its properties instead.
	UseCameraDistortion bool `json:"use_camera_distortion,omitempty"`
}

// Validate ensures all parts of the config are valid and returns the camera as a dependency.
func (cfg *ChessboardConfig) Validate(path string) ([]string, []string, error) {
	var errs error
	if cfg.CameraName == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, cameraNameAttr))
	}
	errs = multierr.Append(errs, cfg.PatternConfig.Validate(path))
	if cfg.DistortionCoefficients != nil && len(cfg.DistortionCoefficients) != 5 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path,
			errors.Errorf("distortion_coefficients must have 5 values, got %d", len(cfg.DistortionCoefficients))))
	}
	if errs != nil {
		return nil, nil, errs
	}
	return []string{cfg.CameraName}, nil, nil
}

// distortion returns the configured distortion model.
func (cfg *ChessboardConfig) distortion() (*projection.RationalDistortion, error) {
	if cfg.DistortionCoefficients != nil {
		return projection.NewRationalDistortion(cfg.DistortionCoefficients)
	}
	return projection.NewRationalDistortion(DefaultDistortion)
}
