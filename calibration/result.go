package calibration

import (
	"fmt"
	"image"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.viam.com/rdk/rimage/transform"

	"github.com/viam-modules/chessboard-calibration/rimage/projection"
)

// Result is a solved camera model and how well it explains the views it was solved from.
type Result struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Distortion *projection.RationalDistortion
	// RMSError is sqrt(sum of squared pixel residuals / number of points).
	RMSError float64
	// ReprojectionError is the mean over views of the residual norm divided by the view's point count.
	ReprojectionError float64
	PerViewErrors     []float64
	Extrinsics        []projection.Extrinsics
	NumImages         int
	ImageSize         image.Point
	// Skipped lists the input images that could not be used, in input order.
	Skipped []SkippedImage
}

// SkippedImage is an input image left out of the calibration and the reason why.
type SkippedImage struct {
	Index int
	Err   error
}

// ToMap renders the result the way it is returned from DoCommand.
func (r *Result) ToMap() map[string]interface{} {
	d := r.Distortion
	return map[string]interface{}{
		"success":            true,
		"rms_error":          r.RMSError,
		"reprojection_error": r.ReprojectionError,
		"num_images":         r.NumImages,
		"image_size": map[string]interface{}{
			"width":  r.ImageSize.X,
			"height": r.ImageSize.Y,
		},
		"camera_matrix": map[string]interface{}{
			"fx": r.Intrinsics.Fx,
			"fy": r.Intrinsics.Fy,
			"cx": r.Intrinsics.Ppx,
			"cy": r.Intrinsics.Ppy,
		},
		"distortion_coefficients": map[string]interface{}{
			"k1": d.K1,
			"k2": d.K2,
			"p1": d.P1,
			"p2": d.P2,
			"k3": d.K3,
			"k4": d.K4,
			"k5": d.K5,
			"k6": d.K6,
		},
	}
}

// String prints out a table of the camera matrix, the distortion coefficients and the error of each view.
func (r *Result) String() string {
	d := r.Distortion
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Parameter", "Value"})
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"fx", r.Intrinsics.Fx},
		{"fy", r.Intrinsics.Fy},
		{"cx", r.Intrinsics.Ppx},
		{"cy", r.Intrinsics.Ppy},
		{"k1", d.K1},
		{"k2", d.K2},
		{"p1", d.P1},
		{"p2", d.P2},
		{"k3", d.K3},
		{"k4", d.K4},
		{"k5", d.K5},
		{"k6", d.K6},
	} {
		t.AppendRow(table.Row{p.name, fmt.Sprintf("%.6f", p.value)})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"image size", fmt.Sprintf("%dx%d", r.ImageSize.X, r.ImageSize.Y)})
	t.AppendRow(table.Row{"images", r.NumImages})
	t.AppendRow(table.Row{"rms error", fmt.Sprintf("%.6f", r.RMSError)})
	t.AppendRow(table.Row{"reprojection error", fmt.Sprintf("%.6f", r.ReprojectionError)})
	for i, e := range r.PerViewErrors {
		t.AppendRow(table.Row{fmt.Sprintf("view %d error", i), fmt.Sprintf("%.6f", e)})
	}
	for _, s := range r.Skipped {
		t.AppendRow(table.Row{fmt.Sprintf("image %d skipped", s.Index), s.Err.Error()})
	}
	return t.Render()
}
