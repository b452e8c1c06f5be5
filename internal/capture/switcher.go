package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"miyu/internal/logging"
)

// Stream is a running frame source bound to one device.
type Stream interface {
	Snapshot() ([]byte, bool)
	Close() error
}

// Opener starts a stream for device.
type Opener func(ctx context.Context, device string) (Stream, error)

// CameraOpener opens cameras with base options, overriding the device.
func CameraOpener(base CameraOptions) Opener {
	return func(ctx context.Context, device string) (Stream, error) {
		opts := base
		opts.Device = device
		return OpenCamera(ctx, opts)
	}
}

// Switcher serves snapshots from whichever device is currently selected.
// Switching closes the previous stream before opening the next, so the old
// device lock is released first.
type Switcher struct {
	open   Opener
	logger *slog.Logger

	mu     sync.Mutex
	device string
	stream Stream
	closed bool
}

// NewSwitcher returns a switcher with no active stream.
func NewSwitcher(open Opener, logger *slog.Logger) *Switcher {
	return &Switcher{open: open, logger: logging.NewComponentLogger(logger, "capture")}
}

// Switch replaces the active stream with one for device. An empty device
// closes the active stream and leaves the switcher idle.
func (s *Switcher) Switch(ctx context.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("switch to %s: switcher closed", device)
	}
	if device == s.device && s.stream != nil {
		return nil
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("close previous stream", logging.String(logging.FieldDevice, s.device), logging.Error(err))
		}
		s.stream = nil
	}
	s.device = device
	if device == "" {
		s.logger.Info("no capture device available")
		return nil
	}
	stream, err := s.open(ctx, device)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	s.stream = stream
	return nil
}

// Device returns the device of the active stream.
func (s *Switcher) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ""
	}
	return s.device
}

// Snapshot delegates to the active stream.
func (s *Switcher) Snapshot() ([]byte, bool) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil, false
	}
	return stream.Snapshot()
}

// Close stops the active stream.
func (s *Switcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
