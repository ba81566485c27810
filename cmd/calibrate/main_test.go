package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/chessboard-calibration/testutils"
)

func TestParsePattern(t *testing.T) {
	size, err := parsePattern("9x6")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldResemble, []int{9, 6})

	size, err = parsePattern(" 7X5 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldResemble, []int{7, 5})

	for _, bad := range []string{"9", "9x6x2", "ax6", ""} {
		_, err := parsePattern(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt", ".complete"} {
		test.That(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600), test.ShouldBeNil)
	}
	test.That(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o750), test.ShouldBeNil)

	paths, err := listImages(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, paths, test.ShouldResemble, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.PNG")})

	_, err = listImages(filepath.Join(dir, "missing"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunCommand(t *testing.T) {
	geom := testutils.TestGeometry
	var payloads []string
	for _, pose := range testutils.CalibrationPoses(geom)[:3] {
		scene := testutils.Scene{Geometry: geom, Intrinsics: testutils.TestIntrinsics, Pose: pose}
		payload, err := testutils.EncodeBase64PNG(scene.Render())
		test.That(t, err, test.ShouldBeNil)
		payloads = append(payloads, payload)
	}
	dir := t.TempDir()
	testutils.WriteImageFilesTo(t, dir, payloads)

	app := newApp()
	var stdout bytes.Buffer
	app.Writer = &stdout
	test.That(t, app.Run([]string{"calibrate", "run", "--dir", dir, "--pattern", "9x6", "--square", "25"}), test.ShouldBeNil)
	var result map[string]interface{}
	test.That(t, json.Unmarshal(stdout.Bytes(), &result), test.ShouldBeNil)
	test.That(t, result["success"], test.ShouldEqual, true)
	test.That(t, result["num_images"], test.ShouldEqual, 3.)

	out := filepath.Join(t.TempDir(), "result.json")
	app = newApp()
	test.That(t, app.Run([]string{"calibrate", "run", "--dir", dir, "--out", out, "--parallelism", "2"}), test.ShouldBeNil)
	data, err := os.ReadFile(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, json.Unmarshal(data, &result), test.ShouldBeNil)
	test.That(t, result["num_images"], test.ShouldEqual, 3.)

	app = newApp()
	stdout.Reset()
	app.Writer = &stdout
	test.That(t, app.Run([]string{"calibrate", "run", "--dir", dir, "--format", "table"}), test.ShouldBeNil)
	test.That(t, stdout.String(), test.ShouldContainSubstring, "reprojection error")
	test.That(t, stdout.String(), test.ShouldContainSubstring, "640x480")

	app = newApp()
	err = app.Run([]string{"calibrate", "run", "--dir", dir, "--pattern", "9"})
	test.That(t, err, test.ShouldNotBeNil)

	app = newApp()
	err = app.Run([]string{"calibrate", "run", "--dir", dir, "--format", "yaml"})
	test.That(t, err, test.ShouldNotBeNil)
}
