//go:build !gocv

package extract

import (
	"context"
	"errors"
)

// ErrGoCVUnavailable is returned when the binary was built without the gocv tag.
var ErrGoCVUnavailable = errors.New("gocv build tag is not enabled")

// ORB is unavailable without the gocv build tag.
type ORB struct{}

// NewORB reports that in-process extraction is not compiled in.
func NewORB(maxFeatures int) (*ORB, error) {
	_ = maxFeatures
	return nil, ErrGoCVUnavailable
}

// Extract always fails in builds without gocv.
func (o *ORB) Extract(ctx context.Context, image []byte) (Result, error) {
	_ = ctx
	_ = image
	return Result{}, ErrGoCVUnavailable
}

// Close is a no-op.
func (o *ORB) Close() error { return nil }
