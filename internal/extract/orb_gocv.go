//go:build gocv

package extract

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// ErrGoCVUnavailable is never returned in gocv builds.
var ErrGoCVUnavailable = errors.New("gocv build tag is not enabled")

// ORB extracts descriptors in-process with OpenCV.
type ORB struct {
	mu  sync.Mutex
	orb gocv.ORB
}

// NewORB allocates an OpenCV ORB detector keeping at most maxFeatures keypoints.
func NewORB(maxFeatures int) (*ORB, error) {
	if maxFeatures <= 0 {
		maxFeatures = 500
	}
	orb := gocv.NewORBWithParams(maxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	return &ORB{orb: orb}, nil
}

// Extract decodes image, converts it to grayscale, detects keypoints and
// renders them onto a JPEG preview.
func (o *ORB) Extract(ctx context.Context, image []byte) (Result, error) {
	if len(image) == 0 {
		return Result{}, ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	src, err := gocv.IMDecode(image, gocv.IMReadColor)
	if err != nil {
		return Result{}, &Error{Backend: "gocv", Err: fmt.Errorf("decode image: %w", err)}
	}
	defer src.Close()
	if src.Empty() {
		return Result{}, &Error{Backend: "gocv", Err: errors.New("decode image: empty frame")}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()

	o.mu.Lock()
	keypoints, descriptors := o.orb.DetectAndCompute(gray, mask)
	o.mu.Unlock()
	defer descriptors.Close()

	drawn := gocv.NewMat()
	defer drawn.Close()
	gocv.DrawKeyPoints(src, keypoints, &drawn, color.RGBA{G: 255, A: 255}, gocv.DrawDefault)

	encoded, err := gocv.IMEncode(gocv.JPEGFileExt, drawn)
	if err != nil {
		return Result{}, &Error{Backend: "gocv", Err: fmt.Errorf("encode preview: %w", err)}
	}
	defer encoded.Close()
	preview := append([]byte(nil), encoded.GetBytes()...)

	var matrix Matrix
	if !descriptors.Empty() {
		raw, err := descriptors.DataPtrUint8()
		if err != nil {
			return Result{}, &Error{Backend: "gocv", Err: fmt.Errorf("read descriptors: %w", err)}
		}
		matrix, err = FromBytes(raw, descriptors.Cols())
		if err != nil {
			return Result{}, &Error{Backend: "gocv", Err: err}
		}
	}
	return Result{Preview: preview, Descriptors: matrix, Keypoints: len(keypoints)}, nil
}

// Close releases the OpenCV detector.
func (o *ORB) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orb.Close()
}
