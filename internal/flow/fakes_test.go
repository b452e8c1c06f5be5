package flow_test

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"miyu/internal/gate"
	"miyu/internal/notifications"
	"miyu/internal/sampling"
)

type fakeLoop struct {
	mu      sync.Mutex
	running bool
	active  uint64
	starts  int
	stops   int
	resets  int
	latest  *sampling.Sample
	subs    []func(context.Context, sampling.Sample)
}

func (l *fakeLoop) Start(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return sampling.ErrRunning
	}
	l.running = true
	l.active++
	l.starts++
	return nil
}

func (l *fakeLoop) Activation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *fakeLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.stops++
	}
	l.running = false
}

func (l *fakeLoop) Subscribe(fn func(context.Context, sampling.Sample)) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

func (l *fakeLoop) Latest() (sampling.Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return sampling.Sample{}, false
	}
	return *l.latest, true
}

func (l *fakeLoop) Reset() {
	l.mu.Lock()
	l.latest = nil
	l.resets++
	l.mu.Unlock()
}

// publish delivers sample stamped with the current activation.
func (l *fakeLoop) publish(ctx context.Context, sample sampling.Sample) {
	sample.Activation = l.Activation()
	l.deliver(ctx, sample)
}

// deliver hands sample to subscribers as is.
func (l *fakeLoop) deliver(ctx context.Context, sample sampling.Sample) {
	l.mu.Lock()
	l.latest = &sample
	subs := slices.Clone(l.subs)
	l.mu.Unlock()
	for _, fn := range subs {
		fn(ctx, sample)
	}
}

func (l *fakeLoop) snapshot() (running bool, starts, stops, resets int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running, l.starts, l.stops, l.resets
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) gate.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) list() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}
