package capture

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const (
	scanBufferInitial = 1 << 20
	scanBufferMax     = 32 << 20
)

// SplitJPEG is a bufio.SplitFunc yielding whole JPEG images from an MJPEG
// byte stream. Bytes before the first start-of-image marker are skipped.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it begins a marker.
		if n := len(data); n > 1 {
			return n - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// FrameSlot holds only the most recent frame.
type FrameSlot struct {
	mu         sync.Mutex
	frame      []byte
	at         time.Time
	staleAfter time.Duration
	now        func() time.Time
	count      uint64
}

// NewFrameSlot returns a slot whose frames expire after staleAfter. A zero
// duration disables expiry.
func NewFrameSlot(staleAfter time.Duration) *FrameSlot {
	return &FrameSlot{staleAfter: staleAfter, now: time.Now}
}

// Store replaces the current frame with a copy of frame.
func (s *FrameSlot) Store(frame []byte) {
	cp := append([]byte(nil), frame...)
	s.mu.Lock()
	s.frame = cp
	s.at = s.now()
	s.count++
	s.mu.Unlock()
}

// Snapshot returns a copy of the latest frame, or false when none has arrived
// or the latest one is stale.
func (s *FrameSlot) Snapshot() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frame) == 0 {
		return nil, false
	}
	if s.staleAfter > 0 && s.now().Sub(s.at) > s.staleAfter {
		return nil, false
	}
	return append([]byte(nil), s.frame...), true
}

// Frames returns how many frames have been stored.
func (s *FrameSlot) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Ingest reads an MJPEG stream into the slot until r is exhausted.
func (s *FrameSlot) Ingest(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scanBufferInitial), scanBufferMax)
	scanner.Split(SplitJPEG)
	for scanner.Scan() {
		s.Store(scanner.Bytes())
	}
	return scanner.Err()
}
