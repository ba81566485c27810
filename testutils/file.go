package testutils

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// WriteImageFiles decodes base64 payloads into numbered PNG files in a fresh temporary directory and returns their
// paths in order.
func WriteImageFiles(t *testing.T, payloads []string) []string {
	t.Helper()
	return WriteImageFilesTo(t, t.TempDir(), payloads)
}

// WriteImageFilesTo is WriteImageFiles into an existing directory.
func WriteImageFilesTo(t *testing.T, dir string, payloads []string) []string {
	t.Helper()
	paths := make([]string, 0, len(payloads))
	for i, payload := range payloads {
		data, err := base64.StdEncoding.DecodeString(payload)
		test.That(t, err, test.ShouldBeNil)
		path := filepath.Join(dir, fmt.Sprintf("img_%03d.png", i))
		test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)
		paths = append(paths, path)
	}
	return paths
}
