package models

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	calibrateCameraCmd = "calibrate_camera"
	getConfigCmd       = "get_config"
)

// Messages returned to the caller when a calibrate_camera command is malformed.
const (
	missingImagesMsg = "Missing required 'images' parameter. Must be a list of base64 encoded image strings."
	noImagesMsg      = "At least one image is required for calibration."
)

var errUnimplemented = errors.New("unimplemented")

// command is a DoCommand request, parsed.
type command interface {
	name() string
}

// calibrateCameraCommand carries the images to calibrate from. A malformed request keeps the message to report in
// parseErr rather than failing the DoCommand call.
type calibrateCameraCommand struct {
	images   []string
	parseErr string
}

func (calibrateCameraCommand) name() string { return calibrateCameraCmd }

type getConfigCommand struct{}

func (getConfigCommand) name() string { return getConfigCmd }

// parseCommand picks the supported command out of a DoCommand request. Requests without one are an error.
func parseCommand(cmd map[string]interface{}) (command, error) {
	if params, ok := cmd[calibrateCameraCmd]; ok {
		return parseCalibrateCamera(params), nil
	}
	if _, ok := cmd[getConfigCmd]; ok {
		return getConfigCommand{}, nil
	}
	keys := lo.Keys(cmd)
	slices.Sort(keys)
	return nil, errors.Wrapf(errUnimplemented, "command not supported: %v", keys)
}

func parseCalibrateCamera(params interface{}) calibrateCameraCommand {
	args, _ := params.(map[string]interface{})
	raw, ok := args["images"].([]interface{})
	if !ok {
		if typed, isStrings := args["images"].([]string); isStrings {
			raw = lo.ToAnySlice(typed)
		} else {
			return calibrateCameraCommand{parseErr: missingImagesMsg}
		}
	}
	if len(raw) == 0 {
		return calibrateCameraCommand{parseErr: noImagesMsg}
	}
	// entries that are not strings fail to decode and are skipped like any other bad image
	images := lo.Map(raw, func(v interface{}, _ int) string {
		s, _ := v.(string)
		return s
	})
	return calibrateCameraCommand{images: images}
}
