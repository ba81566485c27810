package projection

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateHomography computes the 3x3 homography H mapping src to dst (dst ~ H*src) with the
// normalized direct linear transform. At least four correspondences are required.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("mismatched correspondences: %d source and %d destination points", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("at least 4 correspondences are needed for a homography, got %d", len(src))
	}
	srcN, srcT, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstN, dstT, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("homography SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	// H = dstT⁻¹ * Hn * srcT
	var dstTInv mat.Dense
	if err := dstTInv.Inverse(dstT); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	var h mat.Dense
	h.Product(&dstTInv, hn, srcT)
	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		scale = mat.Norm(&h, 2)
	}
	h.Scale(1/scale, &h)
	return &h, nil
}

// ApplyHomography maps p through h.
func ApplyHomography(h mat.Matrix, p r2.Point) r2.Point {
	x := h.At(0, 0)*p.X + h.At(0, 1)*p.Y + h.At(0, 2)
	y := h.At(1, 0)*p.X + h.At(1, 1)*p.Y + h.At(1, 2)
	w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
	return r2.Point{X: x / w, Y: y / w}
}

// DecomposePlanarHomography recovers the pose of the Z=0 plane from a homography mapping plane
// coordinates to normalized image coordinates, H ~ [r1 r2 t]. The plane is placed in front of
// the camera.
func DecomposePlanarHomography(h mat.Matrix) (Extrinsics, error) {
	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < 1e-12 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return Extrinsics{}, errors.New("degenerate homography")
	}
	lambda := 1 / norm
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2 := h2.Mul(lambda)
	t := h3.Mul(lambda)
	rot := RotationFromColumns(r1, r2, r1.Cross(r2))
	return Extrinsics{Rotation: rot.Vector(), Translation: t}, nil
}

// normalizePoints translates pts to their centroid and scales them to an average distance of
// sqrt(2) from the origin. It returns the transformed points and the 3x3 transform applied.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	n := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)
	d := 0.
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	if d < 1e-12 {
		return nil, nil, errors.New("points are coincident")
	}
	scale := math.Sqrt2 / d
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, t, nil
}
