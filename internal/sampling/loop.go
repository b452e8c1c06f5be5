// Package sampling runs the fixed-cadence capture/extract loop.
//
// Each tick takes one snapshot from the Source, hands it to the Extractor and
// publishes the result to subscribers. Ticks never overlap: while a tick and
// its subscribers are still running, later ticks are skipped. Results from a
// tick that belongs to a stopped activation, or whose sequence number is behind
// the latest applied result, are discarded.
package sampling

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"miyu/internal/extract"
	"miyu/internal/logging"
)

// Source yields the most recent decodable frame.
type Source interface {
	Snapshot() ([]byte, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]byte, bool)

// Snapshot calls f.
func (f SourceFunc) Snapshot() ([]byte, bool) { return f() }

// Sample is one published extraction result.
type Sample struct {
	Seq         uint64
	Activation  uint64
	Image       []byte
	Preview     []byte
	Descriptors extract.Matrix
	Keypoints   int
	CapturedAt  time.Time
}

// ErrRunning is returned by Start on a loop that is already running.
var ErrRunning = errors.New("sampling loop already running")

// Loop is safe for concurrent use.
type Loop struct {
	interval  time.Duration
	source    Source
	extractor extract.Extractor
	logger    *slog.Logger

	mu          sync.Mutex
	running     bool
	activation  uint64
	quit        chan struct{}
	tickerDone  chan struct{}
	lastApplied uint64
	latest      *Sample
	subscribers []func(context.Context, Sample)
	onError     []func(error)

	seq      atomic.Uint64
	inFlight atomic.Bool
	skipped  atomic.Uint64
	ticks    sync.WaitGroup
}

// New constructs a stopped loop.
func New(interval time.Duration, source Source, extractor extract.Extractor, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{
		interval:  interval,
		source:    source,
		extractor: extractor,
		logger:    logging.NewComponentLogger(logger, "sampling"),
	}
}

// Subscribe registers fn for every published sample. Subscribers run on the
// tick goroutine; the next tick is skipped until they return.
func (l *Loop) Subscribe(fn func(context.Context, Sample)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.subscribers = append(l.subscribers, fn)
	l.mu.Unlock()
}

// OnError registers fn for extraction failures.
func (l *Loop) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.onError = append(l.onError, fn)
	l.mu.Unlock()
}

// Start begins ticking at the configured interval until Stop is called or ctx
// is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.activation++
	activation := l.activation
	quit := make(chan struct{})
	done := make(chan struct{})
	l.quit = quit
	l.tickerDone = done
	l.mu.Unlock()

	l.logger.Debug("sampling loop started",
		logging.Duration("interval", l.interval),
		logging.Uint64("activation", activation),
	)
	go l.run(ctx, activation, quit, done)
	return nil
}

func (l *Loop) run(ctx context.Context, activation uint64, quit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.deactivate(activation)
			return
		case <-quit:
			return
		case <-ticker.C:
			select {
			case <-quit:
				return
			default:
			}
			l.tick(ctx, activation)
		}
	}
}

func (l *Loop) tick(ctx context.Context, activation uint64) {
	if !l.inFlight.CompareAndSwap(false, true) {
		skipped := l.skipped.Add(1)
		l.logger.Debug("tick skipped; previous tick still in flight", logging.Uint64("skipped_total", skipped))
		return
	}
	seq := l.seq.Add(1)
	l.ticks.Add(1)
	go func() {
		defer l.ticks.Done()
		defer l.inFlight.Store(false)
		l.runTick(logging.WithTick(ctx, seq), activation, seq)
	}()
}

func (l *Loop) runTick(ctx context.Context, activation, seq uint64) {
	if !l.isActive(activation) {
		return
	}
	image, ok := l.source.Snapshot()
	if !ok || len(image) == 0 {
		l.logger.Debug("no frame available", logging.Uint64(logging.FieldTick, seq))
		return
	}
	capturedAt := time.Now()

	res, err := l.extractor.Extract(ctx, image)
	if err != nil {
		if !l.isActive(activation) {
			return
		}
		l.logger.Debug("extraction failed", logging.Uint64(logging.FieldTick, seq), logging.Error(err))
		for _, fn := range l.errorHandlers() {
			fn(err)
		}
		return
	}

	sample := Sample{
		Seq:         seq,
		Activation:  activation,
		Image:       image,
		Preview:     res.Preview,
		Descriptors: res.Descriptors,
		Keypoints:   res.Keypoints,
		CapturedAt:  capturedAt,
	}

	l.mu.Lock()
	if !l.running || l.activation != activation || seq <= l.lastApplied {
		l.mu.Unlock()
		l.logger.Debug("discarding stale sample", logging.Uint64(logging.FieldTick, seq))
		return
	}
	l.lastApplied = seq
	l.latest = &sample
	subs := slices.Clone(l.subscribers)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, sample)
	}
}

func (l *Loop) isActive(activation uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && l.activation == activation
}

func (l *Loop) errorHandlers() []func(error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.onError)
}

func (l *Loop) deactivate(activation uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.activation == activation {
		l.running = false
	}
}

// Stop halts ticking. No tick fires after Stop returns; a tick already in
// flight completes but its result is not published. Stop may be called from a
// subscriber.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	quit := l.quit
	done := l.tickerDone
	l.mu.Unlock()

	close(quit)
	<-done
	l.logger.Debug("sampling loop stopped")
}

// Wait blocks until in-flight ticks have finished.
func (l *Loop) Wait() {
	l.ticks.Wait()
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Latest returns the most recently published sample.
func (l *Loop) Latest() (Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return Sample{}, false
	}
	return *l.latest, true
}

// Reset drops the latest sample.
func (l *Loop) Reset() {
	l.mu.Lock()
	l.latest = nil
	l.mu.Unlock()
}

// Activation identifies the current or most recent Start. Published samples
// carry the activation they were produced under.
func (l *Loop) Activation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activation
}

// Skipped returns how many ticks were skipped because a tick was in flight.
func (l *Loop) Skipped() uint64 {
	return l.skipped.Load()
}
