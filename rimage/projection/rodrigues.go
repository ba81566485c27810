package projection

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Rotation is a row-major 3x3 rotation matrix.
type Rotation [9]float64

// IdentityRotation is the rotation that leaves every vector unchanged.
var IdentityRotation = Rotation{1, 0, 0, 0, 1, 0, 0, 0, 1}

// RotationFromVector converts a rotation vector (axis scaled by the angle in radians) into a
// rotation matrix using the Rodrigues formula.
func RotationFromVector(rvec r3.Vector) Rotation {
	theta := rvec.Norm()
	if theta < 1e-12 {
		// first order expansion around the identity
		return Rotation{
			1, -rvec.Z, rvec.Y,
			rvec.Z, 1, -rvec.X,
			-rvec.Y, rvec.X, 1,
		}
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return Rotation{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	}
}

// Vector converts the rotation back into a rotation vector with angle in [0, pi].
func (r Rotation) Vector() r3.Vector {
	cosTheta := math.Max(-1, math.Min(1, (r[0]+r[4]+r[8]-1)/2))
	theta := math.Acos(cosTheta)
	axis := r3.Vector{X: r[7] - r[5], Y: r[2] - r[6], Z: r[3] - r[1]}
	switch {
	case theta < 1e-9:
		return axis.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// sin(theta) vanishes; recover the axis from the symmetric part R = 2kkᵀ - I
		kx := math.Sqrt(math.Max(0, (r[0]+1)/2))
		ky := math.Sqrt(math.Max(0, (r[4]+1)/2))
		kz := math.Sqrt(math.Max(0, (r[8]+1)/2))
		switch {
		case kx >= ky && kx >= kz:
			ky = math.Copysign(ky, r[1])
			kz = math.Copysign(kz, r[2])
		case ky >= kz:
			kx = math.Copysign(kx, r[1])
			kz = math.Copysign(kz, r[5])
		default:
			kx = math.Copysign(kx, r[2])
			ky = math.Copysign(ky, r[5])
		}
		k := r3.Vector{X: kx, Y: ky, Z: kz}
		return k.Normalize().Mul(theta)
	default:
		return axis.Mul(theta / (2 * math.Sin(theta)))
	}
}

// Apply rotates p.
func (r Rotation) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0]*p.X + r[1]*p.Y + r[2]*p.Z,
		Y: r[3]*p.X + r[4]*p.Y + r[5]*p.Z,
		Z: r[6]*p.X + r[7]*p.Y + r[8]*p.Z,
	}
}

// Transpose returns the inverse rotation.
func (r Rotation) Transpose() Rotation {
	return Rotation{
		r[0], r[3], r[6],
		r[1], r[4], r[7],
		r[2], r[5], r[8],
	}
}

// Dense returns the rotation as a gonum matrix.
func (r Rotation) Dense() *mat.Dense {
	data := r
	return mat.NewDense(3, 3, data[:])
}

// RotationFromColumns builds the rotation closest, in the Frobenius sense, to the matrix with the
// given columns. The third column is usually the cross product of the first two.
func RotationFromColumns(c1, c2, c3 r3.Vector) Rotation {
	m := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return IdentityRotation
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// flip the singular vector of the smallest singular value
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = rot.At(i, j)
		}
	}
	return out
}
