package capture

import (
	"fmt"
	"os"
)

// Still serves one image file as every snapshot.
type Still struct {
	path  string
	frame []byte
}

// OpenStill reads path into memory.
func OpenStill(path string) (*Still, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read still image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("still image %s is empty", path)
	}
	return &Still{path: path, frame: data}, nil
}

// Snapshot returns a copy of the image.
func (s *Still) Snapshot() ([]byte, bool) {
	if s == nil || len(s.frame) == 0 {
		return nil, false
	}
	return append([]byte(nil), s.frame...), true
}

// Path returns the source file.
func (s *Still) Path() string {
	return s.path
}
