package calibration

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/rdk/logging"
	"golang.org/x/sync/errgroup"

	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage"
	"github.com/viam-modules/chessboard-calibration/rimage/detection/chessboard"
)

// ImageLoader returns the i-th input image.
type ImageLoader func(ctx context.Context, i int) (image.Image, error)

type options struct {
	parallelism int
	detection   *chessboard.DetectionConfiguration
}

// Option configures image based calibration.
type Option func(*options)

// WithParallelism processes up to n images at once. Values below 2 process images one at a time. The result does
// not depend on the parallelism.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithDetectionConfiguration overrides the chessboard detection parameters.
func WithDetectionConfiguration(cfg *chessboard.DetectionConfiguration) Option {
	return func(o *options) {
		o.detection = cfg
	}
}

// CalibrateImages calibrates from base64 encoded images. See CalibrateSources.
func CalibrateImages(
	ctx context.Context,
	payloads []string,
	geom pattern.Geometry,
	logger logging.Logger,
	opts ...Option,
) (*Result, error) {
	return CalibrateSources(ctx, len(payloads), func(_ context.Context, i int) (image.Image, error) {
		return rimage.DecodeBase64Image(payloads[i])
	}, geom, logger, opts...)
}

// CalibrateFiles calibrates from image files. See CalibrateSources.
func CalibrateFiles(
	ctx context.Context,
	paths []string,
	geom pattern.Geometry,
	logger logging.Logger,
	opts ...Option,
) (*Result, error) {
	return CalibrateSources(ctx, len(paths), func(_ context.Context, i int) (image.Image, error) {
		return rimage.ReadImageFile(paths[i])
	}, geom, logger, opts...)
}

// imageOutcome is what became of one input image.
type imageOutcome struct {
	corners chessboard.Corners
	size    image.Point
	err     error
}

// batch accumulates the usable views of a set of images.
type batch struct {
	views   []View
	skipped []SkippedImage
	size    image.Point
}

// CalibrateSources loads n images, finds the chessboard in each, and calibrates from the images where the whole
// board was found. Images that cannot be loaded or where the board is not found are logged and skipped. The image
// size is taken from the first usable image and images of another size are skipped.
func CalibrateSources(
	ctx context.Context,
	n int,
	load ImageLoader,
	geom pattern.Geometry,
	logger logging.Logger,
	opts ...Option,
) (*Result, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	o := options{detection: chessboard.DefaultDetectionConfiguration()}
	for _, opt := range opts {
		opt(&o)
	}

	outcomes, err := processImages(ctx, n, load, geom, &o)
	if err != nil {
		return nil, err
	}

	b := lo.Reduce(outcomes, func(acc batch, out imageOutcome, i int) batch {
		if out.err == nil && acc.size != (image.Point{}) && out.size != acc.size {
			out.err = errors.Errorf("image size %dx%d differs from %dx%d", out.size.X, out.size.Y, acc.size.X, acc.size.Y)
		}
		if out.err != nil {
			logger.Warnf("skipping image %d: %v", i, out.err)
			acc.skipped = append(acc.skipped, SkippedImage{Index: i, Err: out.err})
			return acc
		}
		if acc.size == (image.Point{}) {
			acc.size = out.size
		}
		acc.views = append(acc.views, View{ImagePoints: out.corners, ObjectPoints: geom.ObjectPoints()})
		return acc
	}, batch{})

	logger.Infof("found the chessboard in %d of %d images", len(b.views), n)
	if len(b.views) < MinViews {
		return nil, errors.Wrapf(ErrInsufficientData, "need at least %d valid images for calibration, got %d", MinViews, len(b.views))
	}
	res, err := Calibrate(ctx, b.views, b.size, logger)
	if err != nil {
		return nil, err
	}
	res.Skipped = b.skipped
	return res, nil
}

// processImages loads and searches every image, keeping the outcomes in input order.
func processImages(
	ctx context.Context,
	n int,
	load ImageLoader,
	geom pattern.Geometry,
	o *options,
) ([]imageOutcome, error) {
	outcomes := make([]imageOutcome, n)
	process := func(ctx context.Context, i int) imageOutcome {
		img, err := load(ctx, i)
		if err != nil {
			return imageOutcome{err: err}
		}
		corners, err := chessboard.FindCorners(img, geom, o.detection)
		if err != nil {
			return imageOutcome{err: err}
		}
		return imageOutcome{corners: corners, size: img.Bounds().Size()}
	}

	if o.parallelism < 2 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcomes[i] = process(ctx, i)
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = process(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
