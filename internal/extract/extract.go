// Package extract turns one captured image into a preview image and an ORB
// descriptor matrix.
//
// Two backends exist. Worker drives a long-lived external process over a
// length-prefixed pipe protocol; ORB calls OpenCV in-process through gocv and
// is only available in builds tagged gocv.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"miyu/internal/config"
)

// Result is the output of one extraction.
type Result struct {
	// Preview is a JPEG with the detected keypoints drawn on it.
	Preview     []byte
	Descriptors Matrix
	Keypoints   int
}

// Extractor converts one encoded image into a Result.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (Result, error)
}

// ErrEmptyImage is returned when asked to extract from zero bytes.
var ErrEmptyImage = errors.New("empty image")

// Error wraps a failure reported by an extraction backend.
type Error struct {
	Backend string
	Err     error
	Stderr  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s extractor: %v (stderr: %s)", e.Backend, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s extractor: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Closer is implemented by extractors holding external resources.
type Closer interface {
	Close() error
}

// New builds the extractor selected by cfg.
func New(cfg *config.Config, logger *slog.Logger) (Extractor, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	switch cfg.Extractor.Backend {
	case config.ExtractorGoCV:
		orb, err := NewORB(cfg.Extractor.MaxFeatures)
		if err != nil {
			return nil, err
		}
		return orb, nil
	case config.ExtractorWorker, "":
		return NewWorker(cfg.Extractor.Command, cfg.Extractor.Args,
			WithTimeout(time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second),
			WithMaxFeatures(cfg.Extractor.MaxFeatures),
			WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("unknown extractor backend %q", cfg.Extractor.Backend)
	}
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, image []byte) (Result, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, image []byte) (Result, error) {
	return f(ctx, image)
}
