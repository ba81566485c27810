// Package main is a command line tool that calibrates a camera from chessboard images on disk.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/chessboard-calibration/calibration"
	"github.com/viam-modules/chessboard-calibration/passwatch"
	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage"
)

const (
	flagDir         = "dir"
	flagRoot        = "root"
	flagPattern     = "pattern"
	flagSquare      = "square"
	flagOut         = "out"
	flagFormat      = "format"
	flagParallelism = "parallelism"
	flagDebug       = "debug"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger logging.Logger
	boardFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  flagPattern,
			Value: "9x6",
			Usage: "inner corners of the board as `COLSxROWS`",
		},
		&cli.Float64Flag{
			Name:  flagSquare,
			Value: 25,
			Usage: "edge length of one square in millimeters",
		},
		&cli.IntFlag{
			Name:  flagParallelism,
			Usage: "number of images to search at once",
		},
	}

	return &cli.App{
		Name:  "calibrate",
		Usage: "calibrate a camera from chessboard images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("calibrate")
			} else {
				logger = logging.NewLogger("calibrate")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "calibrate from the images in a directory",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagDir,
						Required: true,
						Usage:    "directory holding the images",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write the result to `FILE` instead of stdout",
					},
					&cli.StringFlag{
						Name:  flagFormat,
						Value: "json",
						Usage: "output format, json or table",
					},
				}, boardFlags...),
				Action: func(c *cli.Context) error {
					return runAction(c, logger)
				},
			},
			{
				Name:  "watch",
				Usage: "calibrate each pass directory under a root once it is marked complete",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagRoot,
						Required: true,
						Usage:    "directory holding the pass directories",
					},
				}, boardFlags...),
				Action: func(c *cli.Context) error {
					return watchAction(c, logger)
				},
			},
		},
	}
}

// parsePattern parses a board size such as "9x6".
func parsePattern(s string) ([]int, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return nil, errors.Errorf("pattern %q must look like 9x6", s)
	}
	size := make([]int, 2)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "pattern %q", s)
		}
		size[i] = n
	}
	return size, nil
}

func boardFromFlags(c *cli.Context) (pattern.Geometry, []calibration.Option, error) {
	size, err := parsePattern(c.String(flagPattern))
	if err != nil {
		return pattern.Geometry{}, nil, err
	}
	geom, err := pattern.NewGeometry(size, c.Float64(flagSquare))
	if err != nil {
		return pattern.Geometry{}, nil, err
	}
	return geom, []calibration.Option{calibration.WithParallelism(c.Int(flagParallelism))}, nil
}

// listImages returns the image files directly inside dir, in name order.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return filepath.Join(dir, e.Name()), e.Type().IsRegular() && rimage.IsImageFile(e.Name())
	})
	sort.Strings(paths)
	return paths, nil
}

func runAction(c *cli.Context, logger logging.Logger) error {
	format := c.String(flagFormat)
	if format != "json" && format != "table" {
		return errors.Errorf("unknown output format %q", format)
	}
	geom, opts, err := boardFromFlags(c)
	if err != nil {
		return err
	}
	paths, err := listImages(c.String(flagDir))
	if err != nil {
		return err
	}
	logger.Infof("calibrating %s from %d images in %s", geom, len(paths), c.String(flagDir))
	res, err := calibration.CalibrateFiles(c.Context, paths, geom, logger, opts...)
	if err != nil {
		return err
	}
	var data []byte
	if format == "table" {
		data = []byte(res.String())
	} else if data, err = json.MarshalIndent(res.ToMap(), "", "  "); err != nil {
		return err
	}
	if out := c.String(flagOut); out != "" {
		return os.WriteFile(out, data, 0o600)
	}
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}

func watchAction(c *cli.Context, logger logging.Logger) error {
	geom, opts, err := boardFromFlags(c)
	if err != nil {
		return err
	}
	w, err := passwatch.NewWatcher(c.String(flagRoot), passwatch.CalibrationHandler(geom, logger, opts...), logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("watching %s for completed passes", c.String(flagRoot))
	w.Start()
	<-ctx.Done()
	return w.Close()
}
