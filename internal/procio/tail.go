// Package procio holds small helpers for talking to child processes.
package procio

import (
	"strings"
	"sync"
)

// Tail is an io.Writer that keeps the last limit bytes written to it. It is
// used as a child process's stderr so failures can quote the final output.
type Tail struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

// NewTail returns a Tail holding at most limit bytes. A non-positive limit
// keeps 4 KiB.
func NewTail(limit int) *Tail {
	if limit <= 0 {
		limit = 4 << 10
	}
	return &Tail{limit: limit}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained bytes without surrounding whitespace.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
