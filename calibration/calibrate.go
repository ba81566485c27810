// Package calibration estimates camera intrinsics and lens distortion from several views of a planar chessboard.
package calibration

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-modules/chessboard-calibration/lsq"
	"github.com/viam-modules/chessboard-calibration/rimage/projection"
)

// MinViews is the smallest number of board views a calibration accepts.
const MinViews = 3

var (
	// ErrInsufficientData is returned when there are too few usable views to calibrate.
	ErrInsufficientData = errors.New("insufficient data for calibration")
	// ErrSolveFailed is returned when the solver cannot produce a usable camera model.
	ErrSolveFailed = errors.New("calibration solve failed")
)

// the first 12 parameters are the intrinsics, then 6 per view (rotation vector, translation)
const (
	paramFx = iota
	paramFy
	paramCx
	paramCy
	paramK1
	paramK2
	paramP1
	paramP2
	paramK3
	paramK4
	paramK5
	paramK6
	numIntrinsicParams
)

// View pairs the detected corners of one image with the board points they correspond to.
type View struct {
	ImagePoints  []r2.Point
	ObjectPoints []r3.Vector
}

// Calibrate solves for the intrinsics and rational distortion that best explain every view, minimizing the pixel
// reprojection error. imageSize is the pixel size shared by all views.
func Calibrate(ctx context.Context, views []View, imageSize image.Point, logger logging.Logger) (*Result, error) {
	if len(views) < MinViews {
		return nil, errors.Wrapf(ErrInsufficientData, "need at least %d valid images for calibration, got %d", MinViews, len(views))
	}
	if imageSize.X <= 0 || imageSize.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", imageSize)
	}
	totalPoints := 0
	for i, v := range views {
		if len(v.ImagePoints) != len(v.ObjectPoints) {
			return nil, errors.Errorf("view %d has %d image points for %d object points", i, len(v.ImagePoints), len(v.ObjectPoints))
		}
		if len(v.ImagePoints) < 4 {
			return nil, errors.Errorf("view %d has %d points, need at least 4", i, len(v.ImagePoints))
		}
		totalPoints += len(v.ImagePoints)
	}

	params, err := initialParameters(views, imageSize, logger)
	if err != nil {
		return nil, err
	}

	// distortion is released in two steps, the rational terms last
	stages := []struct {
		name  string
		fixed []int
	}{
		{"brown-conrady", []int{paramK4, paramK5, paramK6}},
		{"rational", nil},
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := refine(params, views, totalPoints, stage.fixed)
		if err != nil {
			return nil, errors.Wrapf(ErrSolveFailed, "%s refinement: %v", stage.name, err)
		}
		params = res
		logger.Debugw("calibration stage done", "stage", stage.name,
			"fx", params[paramFx], "fy", params[paramFy], "cx", params[paramCx], "cy", params[paramCy])
	}

	return buildResult(params, views, imageSize, totalPoints)
}

// initialParameters estimates a starting point: principal point at the image center, focal lengths from the
// homography of every view, no distortion, and each board pose from its homography.
func initialParameters(views []View, imageSize image.Point, logger logging.Logger) ([]float64, error) {
	homographies := make([]*mat.Dense, len(views))
	for i, v := range views {
		src := make([]r2.Point, len(v.ObjectPoints))
		for j, p := range v.ObjectPoints {
			src[j] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := projection.EstimateHomography(src, v.ImagePoints)
		if err != nil {
			return nil, errors.Wrapf(ErrSolveFailed, "view %d: %v", i, err)
		}
		homographies[i] = h
	}

	cx, cy := float64(imageSize.X-1)/2, float64(imageSize.Y-1)/2
	fx, fy, ok := initFocalLengths(homographies, cx, cy)
	if !ok {
		fx = float64(max(imageSize.X, imageSize.Y))
		fy = fx
		logger.Debugf("focal length initialization failed, starting from %.1f", fx)
	}

	params := make([]float64, numIntrinsicParams+6*len(views))
	params[paramFx], params[paramFy], params[paramCx], params[paramCy] = fx, fy, cx, cy
	kInv := mat.NewDense(3, 3, []float64{
		1 / fx, 0, -cx / fx,
		0, 1 / fy, -cy / fy,
		0, 0, 1,
	})
	for i, h := range homographies {
		var normalized mat.Dense
		normalized.Mul(kInv, h)
		ext, err := projection.DecomposePlanarHomography(&normalized)
		if err != nil {
			return nil, errors.Wrapf(ErrSolveFailed, "view %d: %v", i, err)
		}
		setExtrinsics(params, i, ext)
	}
	return params, nil
}

// initFocalLengths uses the fact that the board's x and y axes, and its two diagonals, are orthogonal pairs. With
// the principal point known, each homography gives two linear constraints on 1/fx² and 1/fy².
func initFocalLengths(homographies []*mat.Dense, cx, cy float64) (float64, float64, bool) {
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, h := range homographies {
		var hc, vc, d1, d2 [3]float64
		var n [4]float64
		for j := 0; j < 3; j++ {
			// shift the principal point to the origin
			t0 := h.At(j, 0)
			t1 := h.At(j, 1)
			if j < 2 {
				shift := cx
				if j == 1 {
					shift = cy
				}
				t0 -= shift * h.At(2, 0)
				t1 -= shift * h.At(2, 1)
			}
			hc[j], vc[j] = t0, t1
			d1[j], d2[j] = (t0+t1)/2, (t0-t1)/2
			n[0] += t0 * t0
			n[1] += t1 * t1
			n[2] += d1[j] * d1[j]
			n[3] += d2[j] * d2[j]
		}
		for j := 0; j < 3; j++ {
			hc[j] /= math.Sqrt(n[0])
			vc[j] /= math.Sqrt(n[1])
			d1[j] /= math.Sqrt(n[2])
			d2[j] /= math.Sqrt(n[3])
		}
		a.SetRow(2*i, []float64{hc[0] * vc[0], hc[1] * vc[1]})
		b.SetVec(2*i, -hc[2]*vc[2])
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}
	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return 0, 0, false
	}
	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	if !isUsable(fx) || !isUsable(fy) {
		return 0, 0, false
	}
	return fx, fy, true
}

func isUsable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func setExtrinsics(params []float64, view int, ext projection.Extrinsics) {
	off := numIntrinsicParams + 6*view
	copy(params[off:off+6], []float64{
		ext.Rotation.X, ext.Rotation.Y, ext.Rotation.Z,
		ext.Translation.X, ext.Translation.Y, ext.Translation.Z,
	})
}

func extrinsicsAt(params []float64, view int) projection.Extrinsics {
	off := numIntrinsicParams + 6*view
	return projection.Extrinsics{
		Rotation:    r3.Vector{X: params[off], Y: params[off+1], Z: params[off+2]},
		Translation: r3.Vector{X: params[off+3], Y: params[off+4], Z: params[off+5]},
	}
}

func cameraAt(params []float64) (*transform.PinholeCameraIntrinsics, *projection.RationalDistortion) {
	intr := &transform.PinholeCameraIntrinsics{
		Fx:  params[paramFx],
		Fy:  params[paramFy],
		Ppx: params[paramCx],
		Ppy: params[paramCy],
	}
	dist := &projection.RationalDistortion{
		K1: params[paramK1], K2: params[paramK2], P1: params[paramP1], P2: params[paramP2],
		K3: params[paramK3], K4: params[paramK4], K5: params[paramK5], K6: params[paramK6],
	}
	return intr, dist
}

// reprojectionResiduals writes observed-minus-projected pixel differences, x then y, for every point of every view.
func reprojectionResiduals(dst, params []float64, views []View) {
	intr, dist := cameraAt(params)
	k := 0
	for i, v := range views {
		projected := projection.ProjectPoints(v.ObjectPoints, extrinsicsAt(params, i), intr, dist)
		for j, p := range projected {
			dst[k] = p.X - v.ImagePoints[j].X
			dst[k+1] = p.Y - v.ImagePoints[j].Y
			k += 2
		}
	}
}

// refine runs Levenberg-Marquardt over every parameter except the fixed ones.
func refine(params []float64, views []View, totalPoints int, fixed []int) ([]float64, error) {
	isFixed := make(map[int]bool, len(fixed))
	for _, f := range fixed {
		isFixed[f] = true
	}
	free := make([]int, 0, len(params))
	for i := range params {
		if !isFixed[i] {
			free = append(free, i)
		}
	}
	expand := func(x []float64) []float64 {
		full := append([]float64(nil), params...)
		for i, idx := range free {
			full[idx] = x[i]
		}
		return full
	}
	x0 := make([]float64, len(free))
	for i, idx := range free {
		x0[i] = params[idx]
	}

	problem := lsq.Problem{
		M: 2 * totalPoints,
		Func: func(dst, x []float64) {
			reprojectionResiduals(dst, expand(x), views)
		},
	}
	settings := lsq.DefaultSettings()
	settings.MaxIterations = 60
	res, err := lsq.LevenbergMarquardt(problem, x0, settings)
	if err != nil {
		return nil, err
	}
	return expand(res.X), nil
}

func buildResult(params []float64, views []View, imageSize image.Point, totalPoints int) (*Result, error) {
	for _, p := range params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, errors.Wrap(ErrSolveFailed, "solution is not finite")
		}
	}
	if params[paramFx] <= 0 || params[paramFy] <= 0 {
		return nil, errors.Wrapf(ErrSolveFailed, "non-positive focal length (%v, %v)", params[paramFx], params[paramFy])
	}

	residuals := make([]float64, 2*totalPoints)
	reprojectionResiduals(residuals, params, views)
	rms := math.Sqrt(floats.Dot(residuals, residuals) / float64(totalPoints))

	perView := make([]float64, len(views))
	extrinsics := make([]projection.Extrinsics, len(views))
	k := 0
	for i, v := range views {
		n := 2 * len(v.ImagePoints)
		perView[i] = floats.Norm(residuals[k:k+n], 2) / float64(len(v.ImagePoints))
		extrinsics[i] = extrinsicsAt(params, i)
		k += n
	}
	mean, err := stats.Mean(perView)
	if err != nil {
		return nil, errors.Wrap(ErrSolveFailed, err.Error())
	}

	intr, dist := cameraAt(params)
	intr.Width, intr.Height = imageSize.X, imageSize.Y
	return &Result{
		Intrinsics:        intr,
		Distortion:        dist,
		RMSError:          rms,
		ReprojectionError: mean,
		PerViewErrors:     perView,
		Extrinsics:        extrinsics,
		NumImages:         len(views),
		ImageSize:         imageSize,
	}, nil
}
