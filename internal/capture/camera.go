// Package capture provides frame sources for the sampling loop: a live camera
// read through ffmpeg, and a still image read from disk.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"miyu/internal/logging"
	"miyu/internal/procio"
)

// ErrDeviceBusy is returned when another process already owns the device.
var ErrDeviceBusy = errors.New("capture device is in use by another miyu session")

// CameraOptions configure a Camera.
type CameraOptions struct {
	Device       string
	FFmpegBinary string
	InputFormat  string
	Width        int
	Height       int
	FrameRate    int
	StaleAfter   time.Duration
	LockDir      string
	Logger       *slog.Logger
}

// Camera streams MJPEG frames from a V4L2 device through ffmpeg and keeps the
// latest one.
type Camera struct {
	*FrameSlot

	opts   CameraOptions
	logger *slog.Logger
	lock   *flock.Flock
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *procio.Tail

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
	closed  sync.Once
}

// OpenCamera locks the device and starts ffmpeg. The device stays locked
// until Close.
func OpenCamera(ctx context.Context, opts CameraOptions) (*Camera, error) {
	device := strings.TrimSpace(opts.Device)
	if device == "" {
		return nil, errors.New("no capture device selected")
	}
	if strings.TrimSpace(opts.FFmpegBinary) == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	logger := logging.NewComponentLogger(opts.Logger, "capture").With(logging.String(logging.FieldDevice, device))

	lock, err := acquireDeviceLock(opts.LockDir, device)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, opts.FFmpegBinary, ffmpegArgs(opts)...)
	stderr := procio.NewTail(4 << 10)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = lock.Unlock()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		_ = lock.Unlock()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := &Camera{
		FrameSlot: NewFrameSlot(opts.StaleAfter),
		opts:      opts,
		logger:    logger,
		lock:      lock,
		cmd:       cmd,
		cancel:    cancel,
		stderr:    stderr,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		ingestErr := c.Ingest(stdout)
		waitErr := cmd.Wait()
		if runCtx.Err() != nil {
			return
		}
		if ingestErr == nil && waitErr != nil {
			ingestErr = fmt.Errorf("ffmpeg exited: %w (%s)", waitErr, stderr.String())
		} else if ingestErr == nil {
			ingestErr = errors.New("ffmpeg stream ended")
		}
		c.setErr(ingestErr)
		logging.WarnWithContext(logger, "camera stream ended",
			"capture_stream_ended",
			logging.Error(ingestErr),
			logging.String(logging.FieldErrorHint, "check that the device is connected and supports the configured input format"),
			logging.String(logging.FieldImpact, "no new frames; sampling ticks will be skipped"),
		)
	}()

	logger.Info("camera opened",
		logging.String("input_format", opts.InputFormat),
		logging.Int("width", opts.Width),
		logging.Int("height", opts.Height),
	)
	return c, nil
}

// Err returns the error that ended the stream, if any.
func (c *Camera) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Camera) setErr(err error) {
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
}

// Device returns the device node being captured.
func (c *Camera) Device() string {
	return c.opts.Device
}

// Close stops ffmpeg and releases the device lock.
func (c *Camera) Close() error {
	var err error
	c.closed.Do(func() {
		c.cancel()
		<-c.done
		if unlockErr := c.lock.Unlock(); unlockErr != nil {
			err = fmt.Errorf("release device lock: %w", unlockErr)
		}
		c.logger.Debug("camera closed")
	})
	return err
}

func ffmpegArgs(opts CameraOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if format := strings.TrimSpace(opts.InputFormat); format != "" {
		args = append(args, "-input_format", format)
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-video_size", strconv.Itoa(opts.Width)+"x"+strconv.Itoa(opts.Height))
	}
	if opts.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(opts.FrameRate))
	}
	args = append(args, "-i", opts.Device, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	return args
}

// LockPath returns the lock file used for device.
func LockPath(lockDir, device string) string {
	name := strings.Trim(strings.ReplaceAll(filepath.Clean(device), string(filepath.Separator), "_"), "_")
	if name == "" || name == "." {
		name = "device"
	}
	return filepath.Join(lockDir, name+".lock")
}

func acquireDeviceLock(lockDir, device string) (*flock.Flock, error) {
	if strings.TrimSpace(lockDir) == "" {
		return nil, errors.New("lock directory not configured")
	}
	lock := flock.New(LockPath(lockDir, device))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire device lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, device)
	}
	return lock, nil
}
