package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// TinyJPEG is a minimal SOI/EOI framed payload accepted by the capture and
// extraction plumbing.
var TinyJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x02, 0xFF, 0xD9}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteJPEG writes TinyJPEG into the test's temp directory and returns its path.
func WriteJPEG(t testing.TB, name string) string {
	t.Helper()
	return WriteFile(t, filepath.Join(t.TempDir(), name), TinyJPEG)
}
