package passwatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/chessboard-calibration/calibration"
	"github.com/viam-modules/chessboard-calibration/pattern"
	"github.com/viam-modules/chessboard-calibration/rimage"
)

// Files written into a pass directory once it is processed.
const (
	CalibrationName = "calibration.json"
	SummaryName     = "summary.json"
	metadataName    = "metadata.json"
)

// TimestampLayout is how pass timestamps are reported.
const TimestampLayout = "2006-01-02 15:04:05"

// Summary describes a processed pass.
type Summary struct {
	PassID      string   `json:"pass_id"`
	CompletedAt string   `json:"completed_at"`
	NumFiles    int      `json:"num_files"`
	Files       []string `json:"files"`
	// PassTimestamp is parsed from the pass ID, nil when the ID carries none.
	PassTimestamp *string `json:"pass_timestamp"`
	NumImages     int     `json:"num_images"`
	Calibrated    bool    `json:"calibrated"`
}

// CalibrationHandler calibrates from the images of each pass. It writes the calibration result, or the failure,
// to CalibrationName and a Summary to SummaryName in the pass directory. A failed calibration is returned as an
// error after both files are written.
func CalibrationHandler(geom pattern.Geometry, logger logging.Logger, opts ...calibration.Option) Handler {
	return func(ctx context.Context, p Pass) error {
		entries, err := os.ReadDir(p.Dir)
		if err != nil {
			return err
		}
		files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
			return e.Name(), e.Type().IsRegular()
		})
		images := lo.Filter(files, func(name string, _ int) bool {
			return rimage.IsImageFile(name)
		})
		logger.Infow("processing pass", "pass", p.ID, "files", len(entries), "images", len(images))
		if meta, err := os.ReadFile(filepath.Join(p.Dir, metadataName)); err == nil {
			logger.Infow("pass metadata", "pass", p.ID, "metadata", string(meta))
		}

		paths := lo.Map(images, func(name string, _ int) string { return filepath.Join(p.Dir, name) })
		res, calErr := calibration.CalibrateFiles(ctx, paths, geom, logger, opts...)
		out := map[string]interface{}{"success": false}
		if calErr == nil {
			out = res.ToMap()
		} else {
			out["error"] = calErr.Error()
		}
		if err := writeJSON(filepath.Join(p.Dir, CalibrationName), out); err != nil {
			return err
		}

		summary := Summary{
			PassID:      p.ID,
			CompletedAt: time.Now().Format(time.RFC3339),
			NumFiles:    len(entries),
			Files:       files,
			Calibrated:  calErr == nil,
		}
		if ts, ok := ParsePassTimestamp(p.ID); ok {
			summary.PassTimestamp = lo.ToPtr(ts.Format(TimestampLayout))
		}
		if calErr == nil {
			summary.NumImages = res.NumImages
		}
		if err := writeJSON(filepath.Join(p.Dir, SummaryName), summary); err != nil {
			return err
		}
		logger.Infof("wrote summary for pass %s", p.ID)
		return calErr
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "cannot write %q", path)
}

var (
	compactTimestamp = regexp.MustCompile(`(\d{4})(\d{2})(\d{2})-(\d{2})(\d{2})(\d{2})`)
	dashedTimestamp  = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})-(\d{2})-(\d{2})-(\d{2})`)
	unixTimestamp    = regexp.MustCompile(`(\d{10})`)
)

// ParsePassTimestamp extracts the capture time from a pass ID such as pass-20241109-143022,
// pass-2024-11-09-14-30-22 or pass-1731162622. Unix timestamps are returned in UTC.
func ParsePassTimestamp(id string) (time.Time, bool) {
	for _, re := range []*regexp.Regexp{compactTimestamp, dashedTimestamp} {
		m := re.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		t, err := time.Parse("2006 01 02 15 04 05", strings.Join(m[1:], " "))
		if err == nil {
			return t, true
		}
	}
	if m := unixTimestamp.FindStringSubmatch(id); m != nil {
		secs, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	}
	return time.Time{}, false
}
