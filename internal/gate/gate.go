// Package gate debounces passphrase input and decides when a capture session
// may run.
//
// Every keystroke restarts a quiet-period timer. Only when the timer elapses
// without another keystroke is the value committed and compared against the
// minimum length. A decision is emitted only when the committed value changes.
package gate

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"miyu/internal/logging"
)

// Decision is emitted whenever a newly committed passphrase differs from the
// previous one. Clear is always set: content revealed by the prior session
// must be discarded on both activation and deactivation.
type Decision struct {
	Passphrase string
	Active     bool
	Clear      bool
}

// Stopper cancels a pending timer.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Option customises a Gate.
type Option func(*Gate)

// WithAfterFunc replaces the timer source, typically with a fake clock in tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(g *Gate) {
		if fn != nil {
			g.after = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logging.NewComponentLogger(logger, "gate")
	}
}

// Gate is safe for concurrent use.
type Gate struct {
	minLength int
	quiet     time.Duration
	after     AfterFunc
	logger    *slog.Logger
	decide    func(Decision)

	mu        sync.Mutex
	timer     Stopper
	pending   string
	seq       uint64
	committed string
	closed    bool

	emitMu sync.Mutex
}

// New constructs a gate. decide is invoked on the timer goroutine for every
// decision.
func New(minLength int, quiet time.Duration, decide func(Decision), opts ...Option) *Gate {
	if minLength < 1 {
		minLength = 1
	}
	g := &Gate{
		minLength: minLength,
		quiet:     quiet,
		after:     realAfterFunc,
		logger:    logging.NewComponentLogger(nil, "gate"),
		decide:    decide,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Input records the field's full value after a keystroke and restarts the
// quiet period.
func (g *Gate) Input(value string) {
	value = Normalize(value)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.seq++
	seq := g.seq
	g.pending = value
	g.timer = g.after(g.quiet, func() { g.fire(seq) })
}

func (g *Gate) fire(seq uint64) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	if g.closed || seq != g.seq {
		g.mu.Unlock()
		return
	}
	value := g.pending
	g.timer = nil
	if value == g.committed {
		g.mu.Unlock()
		return
	}
	g.committed = value
	g.mu.Unlock()

	decision := Decision{Passphrase: value, Active: g.Valid(value), Clear: true}
	g.logger.Debug("passphrase committed",
		logging.Bool("active", decision.Active),
		logging.Int("length", RuneLength(value)),
	)
	if g.decide != nil {
		g.decide(decision)
	}
}

// Committed returns the last committed passphrase.
func (g *Gate) Committed() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.committed
}

// Valid reports whether p satisfies the minimum length.
func (g *Gate) Valid(p string) bool {
	return RuneLength(Normalize(p)) >= g.minLength
}

// MinLength returns the configured threshold.
func (g *Gate) MinLength() int {
	return g.minLength
}

// Reset forgets the committed value without emitting a decision, cancelling
// any pending timer.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.seq++
	g.pending = ""
	g.committed = ""
}

// Close cancels a pending timer. No decision fires after Close returns.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	// Wait for a decision already in progress.
	g.emitMu.Lock()
	defer g.emitMu.Unlock()
}

// Normalize returns the NFC form of p.
func Normalize(p string) string {
	return norm.NFC.String(p)
}

// RuneLength counts characters rather than bytes.
func RuneLength(p string) int {
	return utf8.RuneCountInString(p)
}
