package projection

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
)

// Extrinsics places a rigid body, such as the calibration board, in the camera frame.
// Rotation is a rotation vector in radians.
type Extrinsics struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// ProjectPoints maps points given in body coordinates to distorted pixel coordinates.
// A nil dist projects through an ideal pinhole.
func ProjectPoints(
	pts []r3.Vector,
	ext Extrinsics,
	intr *transform.PinholeCameraIntrinsics,
	dist *RationalDistortion,
) []r2.Point {
	out := make([]r2.Point, len(pts))
	rot := RotationFromVector(ext.Rotation)
	for i, p := range pts {
		out[i] = ProjectPoint(rot.Apply(p).Add(ext.Translation), intr, dist)
	}
	return out
}

// ProjectPoint maps a point in the camera frame to distorted pixel coordinates. Unlike
// transform.PinholeCameraIntrinsics.PointToPixel the result is not rounded.
func ProjectPoint(p r3.Vector, intr *transform.PinholeCameraIntrinsics, dist *RationalDistortion) r2.Point {
	x, y := p.X/p.Z, p.Y/p.Z
	x, y = dist.Transform(x, y)
	return r2.Point{X: intr.Fx*x + intr.Ppx, Y: intr.Fy*y + intr.Ppy}
}

// NormalizePixel removes the pinhole intrinsics and the lens distortion from a pixel, returning
// ideal normalized image coordinates.
func NormalizePixel(px r2.Point, intr *transform.PinholeCameraIntrinsics, dist *RationalDistortion) r2.Point {
	x := (px.X - intr.Ppx) / intr.Fx
	y := (px.Y - intr.Ppy) / intr.Fy
	x, y = dist.Undistort(x, y)
	return r2.Point{X: x, Y: y}
}
