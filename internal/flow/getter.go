package flow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"miyu/internal/exchange"
	"miyu/internal/gate"
	"miyu/internal/logging"
	"miyu/internal/notifications"
	"miyu/internal/sampling"
	"miyu/internal/session"
)

// GetterOption customises a Getter.
type GetterOption func(*Getter)

// WithGetterLogger attaches a logger.
func WithGetterLogger(logger *slog.Logger) GetterOption {
	return func(g *Getter) {
		g.logger = logging.NewComponentLogger(logger, "getter")
	}
}

// WithGetterNotifier routes match and error events to svc.
func WithGetterNotifier(svc notifications.Service) GetterOption {
	return func(g *Getter) {
		if svc != nil {
			g.notifier = svc
		}
	}
}

// WithGateOptions passes options to the passphrase gate.
func WithGateOptions(opts ...gate.Option) GetterOption {
	return func(g *Getter) {
		g.gateOpts = append(g.gateOpts, opts...)
	}
}

// Getter is safe for concurrent use.
type Getter struct {
	loop     Sampler
	client   Retriever
	machine  *session.Machine
	gate     *gate.Gate
	gateOpts []gate.Option
	logger   *slog.Logger
	notifier notifications.Service

	mu       sync.Mutex
	ctx      context.Context
	active   activeSession
	revealed string
	hasValue bool
	lastErr  error
	onReveal []func(string)
	onError  []func(error)
	onClear  []func()
}

// activeSession binds a session generation to the loop activation started for
// it and the passphrase it was started with.
type activeSession struct {
	generation uint64
	activation uint64
	passphrase string
}

// NewGetter wires a getter. Samples published by loop are routed to
// HandleSample.
func NewGetter(loop Sampler, client Retriever, minLength int, quiet time.Duration, opts ...GetterOption) *Getter {
	g := &Getter{
		loop:     loop,
		client:   client,
		machine:  session.New(),
		logger:   logging.NewComponentLogger(nil, "getter"),
		notifier: notifications.NewNoop(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.gate = gate.New(minLength, quiet, g.decide, append([]gate.Option{gate.WithLogger(g.logger)}, g.gateOpts...)...)
	g.machine.Subscribe(g.onTransition)
	loop.Subscribe(g.HandleSample)
	return g
}

// Run sets the context used for sampling activations. Call before the first
// keystroke.
func (g *Getter) Run(ctx context.Context) {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()
}

// Input records the passphrase field after a keystroke. Revealed content is
// cleared immediately.
func (g *Getter) Input(value string) {
	g.clearRevealed()
	g.gate.Input(value)
}

// Close cancels any pending decision and stops the session.
func (g *Getter) Close() {
	g.gate.Close()
	g.machine.Stop("closed")
	g.loop.Stop()
}

// Session exposes the state machine for status reporting.
func (g *Getter) Session() *session.Machine {
	return g.machine
}

// State returns the current session state.
func (g *Getter) State() session.State {
	return g.machine.State()
}

// Revealed returns the message from the last successful retrieve.
func (g *Getter) Revealed() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revealed, g.hasValue
}

// LastError returns the error that stopped the most recent session.
func (g *Getter) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// OnReveal registers fn for every revealed message.
func (g *Getter) OnReveal(fn func(string)) {
	g.mu.Lock()
	g.onReveal = append(g.onReveal, fn)
	g.mu.Unlock()
}

// OnError registers fn for errors that stop a session.
func (g *Getter) OnError(fn func(error)) {
	g.mu.Lock()
	g.onError = append(g.onError, fn)
	g.mu.Unlock()
}

// OnClear registers fn for every time revealed content is discarded.
func (g *Getter) OnClear(fn func()) {
	g.mu.Lock()
	g.onClear = append(g.onClear, fn)
	g.mu.Unlock()
}

func (g *Getter) decide(d gate.Decision) {
	if d.Clear {
		g.clearRevealed()
	}
	if !d.Active {
		g.mu.Lock()
		g.active = activeSession{}
		g.mu.Unlock()
		if g.machine.Stop("passphrase below minimum length") {
			g.logger.Info("session stopped", logging.String("reason", "passphrase below minimum length"))
		}
		g.loop.Stop()
		return
	}

	g.loop.Stop()
	g.loop.Reset()
	g.mu.Lock()
	g.lastErr = nil
	g.active = activeSession{}
	ctx := g.ctx
	g.mu.Unlock()

	gen := g.machine.Activate("passphrase committed")
	ctx = logging.WithSessionID(ctx, g.machine.SessionID())
	logging.WithContext(ctx, g.logger).Info("session processing", logging.Uint64("generation", gen))
	if err := g.loop.Start(ctx); err != nil && !errors.Is(err, sampling.ErrRunning) {
		g.fail(ctx, gen, err)
		return
	}
	g.mu.Lock()
	g.active = activeSession{generation: gen, activation: g.loop.Activation(), passphrase: d.Passphrase}
	g.mu.Unlock()
}

func (g *Getter) onTransition(tr session.Transition) {
	if tr.To != session.Processing {
		g.loop.Stop()
	}
}

// HandleSample runs one exchange for a published sample. Samples produced
// under an earlier loop activation are dropped; the request always uses the
// passphrase the current session was started with.
func (g *Getter) HandleSample(ctx context.Context, sample sampling.Sample) {
	g.mu.Lock()
	active := g.active
	g.mu.Unlock()
	gen := active.generation
	if gen == 0 || sample.Activation != active.activation || !g.machine.IsCurrent(gen) {
		g.logger.Debug("dropping sample from an inactive session",
			logging.Uint64("activation", sample.Activation),
			logging.Uint64(logging.FieldTick, sample.Seq),
		)
		return
	}
	ctx = logging.WithSessionID(ctx, g.machine.SessionID())
	logger := logging.WithContext(ctx, g.logger)

	passphrase := active.passphrase
	if passphrase != g.gate.Committed() || !g.gate.Valid(passphrase) {
		g.machine.StopIf(gen, "passphrase no longer valid")
		return
	}
	if sample.Descriptors.Empty() {
		logger.Debug("no descriptors in sample; waiting for next tick")
		return
	}

	words, err := g.client.Retrieve(ctx, passphrase, sample.Descriptors)
	if !g.machine.IsCurrent(gen) {
		logger.Debug("dropping result for superseded session", logging.Uint64("generation", gen))
		return
	}

	switch {
	case err == nil:
		if !g.machine.Match(gen) {
			return
		}
		g.mu.Lock()
		g.revealed = words
		g.hasValue = true
		handlers := slices.Clone(g.onReveal)
		g.mu.Unlock()

		logger.Info("message revealed", logging.Int("descriptor_rows", sample.Descriptors.Rows()))
		for _, fn := range handlers {
			fn(words)
		}
		g.publish(ctx, notifications.EventMatchFound, nil)
	case errors.Is(err, exchange.ErrNoMatch):
		logger.Debug("no match yet")
	default:
		g.fail(ctx, gen, err)
	}
}

func (g *Getter) fail(ctx context.Context, gen uint64, err error) {
	if !g.machine.StopIf(gen, "backend error") {
		return
	}
	g.mu.Lock()
	g.lastErr = err
	handlers := slices.Clone(g.onError)
	g.mu.Unlock()

	logging.WarnWithContext(logging.WithContext(ctx, g.logger), "session stopped by backend failure", "backend_error",
		logging.Error(err),
		logging.String(logging.FieldImpact, "polling halted until the passphrase changes"),
	)
	for _, fn := range handlers {
		fn(err)
	}
	g.publish(ctx, notifications.EventError, notifications.Payload{"context": "retrieve", "error": err})
}

func (g *Getter) clearRevealed() {
	g.mu.Lock()
	had := g.hasValue
	g.revealed = ""
	g.hasValue = false
	handlers := slices.Clone(g.onClear)
	g.mu.Unlock()
	if !had {
		return
	}
	for _, fn := range handlers {
		fn()
	}
}

func (g *Getter) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := g.notifier.Publish(ctx, event, payload); err != nil {
		g.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
