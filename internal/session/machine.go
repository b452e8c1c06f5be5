// Package session holds the capture session state machine shared by the
// passphrase gate, the sampling loop and the remote exchange.
//
// A session is Stopped, Processing or Matched. Sampling only happens while
// Processing. Every entry into Processing bumps the generation so results
// computed for an earlier activation can be recognised and dropped.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// State enumerates the session lifecycle.
type State int

const (
	Stopped State = iota
	Processing
	Matched
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Processing:
		return "processing"
	case Matched:
		return "matched"
	default:
		return "unknown"
	}
}

// Transition describes one state change.
type Transition struct {
	From       State
	To         State
	Generation uint64
	SessionID  string
	Reason     string
}

// Machine guards the current state. It is safe for concurrent use.
type Machine struct {
	mu          sync.Mutex
	state       State
	generation  uint64
	sessionID   string
	subscribers []func(Transition)
}

// New returns a machine in the Stopped state.
func New() *Machine {
	return &Machine{state: Stopped}
}

// Activate enters Processing and returns the new generation. Activating an
// already processing session starts a fresh generation.
func (m *Machine) Activate(reason string) uint64 {
	m.mu.Lock()
	from := m.state
	m.generation++
	m.state = Processing
	m.sessionID = uuid.NewString()
	tr := Transition{From: from, To: Processing, Generation: m.generation, SessionID: m.sessionID, Reason: reason}
	subs := m.snapshotSubscribers()
	m.mu.Unlock()

	notify(subs, tr)
	return tr.Generation
}

// Stop forces the Stopped state. It returns false when already stopped.
func (m *Machine) Stop(reason string) bool {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return false
	}
	tr := Transition{From: m.state, To: Stopped, Generation: m.generation, SessionID: m.sessionID, Reason: reason}
	m.state = Stopped
	subs := m.snapshotSubscribers()
	m.mu.Unlock()

	notify(subs, tr)
	return true
}

// StopIf stops the session only when gen is still the current generation and
// the session is processing.
func (m *Machine) StopIf(gen uint64, reason string) bool {
	m.mu.Lock()
	if m.generation != gen || m.state != Processing {
		m.mu.Unlock()
		return false
	}
	tr := Transition{From: Processing, To: Stopped, Generation: gen, SessionID: m.sessionID, Reason: reason}
	m.state = Stopped
	subs := m.snapshotSubscribers()
	m.mu.Unlock()

	notify(subs, tr)
	return true
}

// Match moves a processing session of generation gen into Matched. Stale
// generations and non-processing sessions are ignored.
func (m *Machine) Match(gen uint64) bool {
	m.mu.Lock()
	if m.generation != gen || m.state != Processing {
		m.mu.Unlock()
		return false
	}
	tr := Transition{From: Processing, To: Matched, Generation: gen, SessionID: m.sessionID, Reason: "matched"}
	m.state = Matched
	subs := m.snapshotSubscribers()
	m.mu.Unlock()

	notify(subs, tr)
	return true
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the current generation.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// SessionID returns the identifier of the most recent activation.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// IsCurrent reports whether gen is the current generation and still processing.
func (m *Machine) IsCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen && m.state == Processing
}

// Subscribe registers fn for every transition. Callbacks run outside the lock
// on the goroutine that caused the transition.
func (m *Machine) Subscribe(fn func(Transition)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

func (m *Machine) snapshotSubscribers() []func(Transition) {
	if len(m.subscribers) == 0 {
		return nil
	}
	subs := make([]func(Transition), len(m.subscribers))
	copy(subs, m.subscribers)
	return subs
}

func notify(subs []func(Transition), tr Transition) {
	for _, fn := range subs {
		fn(tr)
	}
}
