// Package main is the module entrypoint serving the chessboard calibration models.
package main

import (
	"go.viam.com/rdk/components/posetracker"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"github.com/viam-modules/chessboard-calibration/models"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: models.CameraCalibration},
		resource.APIModel{API: posetracker.API, Model: models.Chessboard},
	)
}
