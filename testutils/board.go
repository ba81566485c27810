// Package testutils renders synthetic chessboard scenes with a known camera and board pose.
package testutils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"

	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage/projection"
)

// TestIntrinsics is a 640x480 camera used by most synthetic scenes.
var TestIntrinsics = &transform.PinholeCameraIntrinsics{
	Width:  640,
	Height: 480,
	Fx:     600,
	Fy:     600,
	Ppx:    320,
	Ppy:    240,
}

// TestGeometry is a 9x6 board with 25mm squares.
var TestGeometry = pattern.Geometry{Cols: 9, Rows: 6, SquareSize: 25}

// Scene is a chessboard seen through a pinhole camera with optional lens distortion.
type Scene struct {
	Geometry   pattern.Geometry
	Intrinsics *transform.PinholeCameraIntrinsics
	Distortion *projection.RationalDistortion
	// Pose places the board in the camera frame.
	Pose projection.Extrinsics
	// Supersample is the number of samples per pixel along each axis, 4 when zero. Edges land on a lattice of
	// 1/Supersample pixels, so corner accuracy tests need a finer render.
	Supersample int
	// Background is the gray level around the board, 160 when zero.
	Background uint8
}

// BoardPose returns the board pose that puts the center of the board distance away from the camera, shifted by
// offset, after rotating it by rvec.
func BoardPose(geom pattern.Geometry, rvec r3.Vector, distance float64, offset r3.Vector) projection.Extrinsics {
	center := r3.Vector{
		X: float64(geom.Cols-1) * geom.SquareSize / 2,
		Y: float64(geom.Rows-1) * geom.SquareSize / 2,
	}
	rot := projection.RotationFromVector(rvec)
	t := r3.Vector{Z: distance}.Add(offset).Sub(rot.Apply(center))
	return projection.Extrinsics{Rotation: rvec, Translation: t}
}

// CalibrationPoses are board poses spread over enough orientations to calibrate TestIntrinsics.
func CalibrationPoses(geom pattern.Geometry) []projection.Extrinsics {
	return []projection.Extrinsics{
		BoardPose(geom, r3.Vector{X: 0.3, Y: 0.05}, 470, r3.Vector{X: 10}),
		BoardPose(geom, r3.Vector{X: -0.05, Y: 0.3}, 500, r3.Vector{Y: -10}),
		BoardPose(geom, r3.Vector{X: -0.25, Y: 0.2, Z: 0.1}, 480, r3.Vector{X: -15, Y: 5}),
		BoardPose(geom, r3.Vector{X: 0.2, Y: -0.25, Z: -0.1}, 520, r3.Vector{X: 5, Y: 10}),
		BoardPose(geom, r3.Vector{X: 0.1, Y: -0.3, Z: 0.05}, 460, r3.Vector{}),
		BoardPose(geom, r3.Vector{X: -0.3, Y: -0.1, Z: -0.05}, 490, r3.Vector{X: 10, Y: -5}),
	}
}

// Corners returns the exact pixel positions of the inner corners, in the order of the board's object points.
func (s Scene) Corners() []r2.Point {
	return projection.ProjectPoints(s.Geometry.ObjectPoints(), s.Pose, s.Intrinsics, s.Distortion)
}

// Render draws the scene. The board has a white border one square wide and is anti-aliased by supersampling.
func (s Scene) Render() *image.NRGBA {
	ss := s.Supersample
	if ss <= 0 {
		ss = 4
	}
	bg := float64(s.Background)
	if s.Background == 0 {
		bg = 160
	}
	w, h := s.Intrinsics.Width, s.Intrinsics.Height
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	rot := projection.RotationFromVector(s.Pose.Rotation)
	inv := rot.Transpose()
	normal := rot.Apply(r3.Vector{Z: 1})
	planeDist := normal.Dot(s.Pose.Translation)
	sq := s.Geometry.SquareSize
	cols, rows := float64(s.Geometry.Cols), float64(s.Geometry.Rows)

	sample := func(u, v float64) float64 {
		x := (u - s.Intrinsics.Ppx) / s.Intrinsics.Fx
		y := (v - s.Intrinsics.Ppy) / s.Intrinsics.Fy
		if s.Distortion != nil {
			x, y = s.Distortion.Undistort(x, y)
		}
		ray := r3.Vector{X: x, Y: y, Z: 1}
		denom := normal.Dot(ray)
		if math.Abs(denom) < 1e-12 {
			return bg
		}
		depth := planeDist / denom
		if depth <= 0 {
			return bg
		}
		board := inv.Apply(ray.Mul(depth).Sub(s.Pose.Translation))
		cx, cy := math.Floor(board.X/sq), math.Floor(board.Y/sq)
		switch {
		case cx < -2 || cx > cols || cy < -2 || cy > rows:
			return bg
		case cx < -1 || cx > cols-1 || cy < -1 || cy > rows-1:
			return 255
		case int(cx+cy)%2 == 0:
			return 0
		default:
			return 255
		}
	}

	step := 1 / float64(ss)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			sum := 0.
			for j := 0; j < ss; j++ {
				for i := 0; i < ss; i++ {
					sum += sample(float64(px)-0.5+(float64(i)+0.5)*step, float64(py)-0.5+(float64(j)+0.5)*step)
				}
			}
			g := uint8(math.Round(sum / float64(ss*ss)))
			img.SetNRGBA(px, py, color.NRGBA{g, g, g, 255})
		}
	}
	return img
}

// EncodeBase64PNG encodes img as a base64 PNG payload.
func EncodeBase64PNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
