// Package projection holds the camera model used for calibration and pose estimation: the
// rational lens distortion model, rotation vectors, point projection and planar homographies.
package projection

import (
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
)

// RationalDistortionType is the distortion model name reported by RationalDistortion.
const RationalDistortionType = transform.DistortionType("rational")

// RationalDistortion is the rational lens model: a ratio of radial polynomials plus tangential
// terms. With K4, K5 and K6 at zero it reduces to the Brown-Conrady model.
//
//	radial = (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶)
//	x_d = x*radial + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y*radial + p1*(r² + 2*y²) + 2*p2*x*y
type RationalDistortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
	K5 float64 `json:"k5"`
	K6 float64 `json:"k6"`
}

// NewRationalDistortion builds the model from coefficients ordered k1, k2, p1, p2, k3, k4, k5, k6.
// Missing trailing coefficients are zero.
func NewRationalDistortion(params []float64) (*RationalDistortion, error) {
	if len(params) > 8 {
		return nil, errors.Errorf("list of parameters too long, expected max 8, got %d", len(params))
	}
	var p [8]float64
	copy(p[:], params)
	d := &RationalDistortion{p[0], p[1], p[2], p[3], p[4], p[5], p[6], p[7]}
	if err := d.CheckValid(); err != nil {
		return nil, err
	}
	return d, nil
}

// FromDistorter converts a distortion model reported by a camera into the rational model.
// A nil distorter means no distortion.
func FromDistorter(d transform.Distorter) (*RationalDistortion, error) {
	switch v := d.(type) {
	case nil:
		return &RationalDistortion{}, nil
	case *RationalDistortion:
		if v == nil {
			return &RationalDistortion{}, nil
		}
		out := *v
		return &out, nil
	case *transform.BrownConrady:
		if v == nil {
			return &RationalDistortion{}, nil
		}
		return &RationalDistortion{
			K1: v.RadialK1,
			K2: v.RadialK2,
			K3: v.RadialK3,
			P1: v.TangentialP1,
			P2: v.TangentialP2,
		}, nil
	default:
		return nil, errors.Errorf("cannot use %q distortion model", d.ModelType())
	}
}

// ModelType returns the type of distortion model.
func (d *RationalDistortion) ModelType() transform.DistortionType {
	return RationalDistortionType
}

// CheckValid checks that every coefficient is finite.
func (d *RationalDistortion) CheckValid() error {
	if d == nil {
		return transform.InvalidDistortionError("rational distortion_parameters not provided")
	}
	for _, p := range d.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return transform.InvalidDistortionError("rational distortion_parameters must be finite")
		}
	}
	return nil
}

// Parameters returns the coefficients ordered k1, k2, p1, p2, k3, k4, k5, k6.
func (d *RationalDistortion) Parameters() []float64 {
	if d == nil {
		return []float64{}
	}
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3, d.K4, d.K5, d.K6}
}

// Transform distorts a point given in normalized image coordinates.
func (d *RationalDistortion) Transform(x, y float64) (float64, float64) {
	if d == nil {
		return x, y
	}
	r2 := x*x + y*y
	radial := d.radial(r2)
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

func (d *RationalDistortion) radial(r2 float64) float64 {
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1 + d.K1*r2 + d.K2*r4 + d.K3*r6
	den := 1 + d.K4*r2 + d.K5*r4 + d.K6*r6
	return num / den
}

// Undistort inverts Transform with Newton-Raphson iterations, starting from the distorted point.
func (d *RationalDistortion) Undistort(xd, yd float64) (float64, float64) {
	if d == nil {
		return xd, yd
	}
	const maxIterations = 30
	const tolerance = 1e-12

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		num := 1 + d.K1*r2 + d.K2*r4 + d.K3*r4*r2
		den := 1 + d.K4*r2 + d.K5*r4 + d.K6*r4*r2
		if den == 0 {
			break
		}
		radial := num / den

		errX := xu*radial + 2*d.P1*xu*yu + d.P2*(r2+2*xu*xu) - xd
		errY := yu*radial + d.P1*(r2+2*yu*yu) + 2*d.P2*xu*yu - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		dNum := d.K1 + 2*d.K2*r2 + 3*d.K3*r4
		dDen := d.K4 + 2*d.K5*r2 + 3*d.K6*r4
		// derivative of radial with respect to r²
		dRadial := (dNum*den - num*dDen) / (den * den)

		dxdDxu := radial + 2*xu*xu*dRadial + 2*d.P1*yu + 6*d.P2*xu
		dxdDyu := 2*xu*yu*dRadial + 2*d.P1*xu + 2*d.P2*yu
		dydDxu := 2*xu*yu*dRadial + 2*d.P1*xu + 2*d.P2*yu
		dydDyu := radial + 2*yu*yu*dRadial + 6*d.P1*yu + 2*d.P2*xu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}
	return xu, yu
}
