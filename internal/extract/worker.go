package extract

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"miyu/internal/logging"
	"miyu/internal/procio"
)

const (
	maxResponseBytes = 64 << 20
	stderrTailBytes  = 4 << 10
)

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithTimeout bounds one request/response round trip.
func WithTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithMaxFeatures is forwarded to the worker as MIYU_ORB_FEATURES.
func WithMaxFeatures(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxFeatures = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logging.NewComponentLogger(logger, "extractor")
	}
}

// WithEnv appends environment entries for the worker process.
func WithEnv(env ...string) WorkerOption {
	return func(w *Worker) {
		w.env = append(w.env, env...)
	}
}

// Worker runs a long-lived extraction process. Requests are written to its
// stdin as [uint32 BE length][image]; responses arrive on file descriptor 3 as
// [uint32 BE length][json]. A crashed process is restarted on the next call.
type Worker struct {
	command     string
	args        []string
	env         []string
	timeout     time.Duration
	maxFeatures int
	logger      *slog.Logger

	mu   sync.Mutex
	proc *workerProcess
}

// NewWorker returns a Worker; the process is started lazily.
func NewWorker(command string, args []string, opts ...WorkerOption) *Worker {
	w := &Worker{
		command: command,
		args:    append([]string(nil), args...),
		timeout: 10 * time.Second,
		logger:  logging.NewComponentLogger(nil, "extractor"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type workerResponse struct {
	Preview     []byte `json:"preview"`
	Descriptors Matrix `json:"descriptors"`
	Keypoints   int    `json:"keypoints"`
	Error       string `json:"error"`
}

// Extract sends image to the worker and decodes its reply. Calls are
// serialised.
func (w *Worker) Extract(ctx context.Context, image []byte) (Result, error) {
	if len(image) == 0 {
		return Result{}, ErrEmptyImage
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.proc == nil {
		proc, err := w.start()
		if err != nil {
			return Result{}, &Error{Backend: "worker", Err: err}
		}
		w.proc = proc
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	proc := w.proc
	go func() {
		body, err := proc.communicate(image)
		done <- reply{body: body, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		w.discardLocked()
		<-done
		return Result{}, &Error{Backend: "worker", Err: ctx.Err()}
	}
	if r.err != nil {
		proc.awaitExit(time.Second)
		stderr := proc.stderrTail()
		w.discardLocked()
		logging.WarnWithContext(w.logger, "extraction worker failed",
			"extractor_worker_failed",
			logging.Error(r.err),
			logging.String("stderr", stderr),
			logging.String(logging.FieldErrorHint, "check the worker command and that OpenCV is installed for it"),
			logging.String(logging.FieldImpact, "frame skipped; worker restarts on next tick"),
		)
		return Result{}, &Error{Backend: "worker", Err: r.err, Stderr: stderr}
	}

	var resp workerResponse
	if err := json.Unmarshal(r.body, &resp); err != nil {
		return Result{}, &Error{Backend: "worker", Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(resp.Error) != "" {
		return Result{}, &Error{Backend: "worker", Err: errors.New(resp.Error)}
	}
	if err := resp.Descriptors.Validate(); err != nil {
		return Result{}, &Error{Backend: "worker", Err: err}
	}
	keypoints := resp.Keypoints
	if keypoints == 0 {
		keypoints = resp.Descriptors.Rows()
	}
	return Result{Preview: resp.Preview, Descriptors: resp.Descriptors, Keypoints: keypoints}, nil
}

// Close stops the worker process if running.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.proc == nil {
		return nil
	}
	err := w.proc.close()
	w.proc = nil
	return err
}

func (w *Worker) discardLocked() {
	if w.proc == nil {
		return
	}
	w.proc.kill()
	w.proc = nil
}

func (w *Worker) start() (*workerProcess, error) {
	if strings.TrimSpace(w.command) == "" {
		return nil, errors.New("worker command not configured")
	}
	cmd := exec.Command(w.command, w.args...)
	cmd.Env = append(os.Environ(), w.env...)
	if w.maxFeatures > 0 {
		cmd.Env = append(cmd.Env, "MIYU_ORB_FEATURES="+strconv.Itoa(w.maxFeatures))
	}
	stderr := procio.NewTail(stderrTailBytes)
	cmd.Stderr = stderr

	r, wr, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create data pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{wr}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		wr.Close()
		r.Close()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		wr.Close()
		r.Close()
		return nil, fmt.Errorf("start %s: %w", w.command, err)
	}
	// Only the child keeps the write end.
	wr.Close()

	w.logger.Debug("extraction worker started",
		logging.String("command", w.command),
		logging.Int("pid", cmd.Process.Pid),
	)
	proc := &workerProcess{cmd: cmd, stdin: stdin, data: r, stderr: stderr, exited: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.exited)
	}()
	return proc, nil
}

type workerProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	data    io.ReadCloser
	stderr  *procio.Tail
	exited  chan struct{}
	waitErr error
}

func (p *workerProcess) communicate(payload []byte) ([]byte, error) {
	return roundTrip(p.stdin, p.data, payload)
}

func (p *workerProcess) stderrTail() string {
	if p.stderr == nil {
		return ""
	}
	return p.stderr.String()
}

func (p *workerProcess) close() error {
	p.stdin.Close()
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		p.kill()
		<-p.exited
	}
	p.data.Close()
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return nil
	}
	return p.waitErr
}

// awaitExit waits briefly for a failed process so its stderr is fully drained.
func (p *workerProcess) awaitExit(d time.Duration) {
	select {
	case <-p.exited:
	case <-time.After(d):
	}
}

func (p *workerProcess) kill() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.stdin.Close()
	p.data.Close()
}

// roundTrip writes one framed request and reads one framed response.
func roundTrip(in io.Writer, out io.Reader, payload []byte) ([]byte, error) {
	if err := binary.Write(in, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, fmt.Errorf("write request header: %w", err)
	}
	if _, err := in.Write(payload); err != nil {
		return nil, fmt.Errorf("write request body: %w", err)
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(out, header); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxResponseBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(out, body); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
