package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"miyu/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "miyu.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	chunk, err := logs.Tail(path, 2, logs.Filter{})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(chunk.Lines) != 2 || chunk.Lines[0] != "b" || chunk.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", chunk.Lines)
	}
	if chunk.Offset != 6 {
		t.Fatalf("expected offset 6, got %d", chunk.Offset)
	}
}

func TestTailFilters(t *testing.T) {
	path := writeLog(t, "session_id=s1 started\nsession_id=s2 started\nsession_id=s1 MATCH found\n")

	tests := []struct {
		name   string
		filter logs.Filter
		want   []string
	}{
		{"session", logs.Filter{SessionID: "s1"}, []string{"session_id=s1 started", "session_id=s1 MATCH found"}},
		{"contains is case insensitive", logs.Filter{Contains: "match"}, []string{"session_id=s1 MATCH found"}},
		{"both", logs.Filter{SessionID: "s2", Contains: "match"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := logs.Tail(path, 10, tt.filter)
			if err != nil {
				t.Fatalf("Tail: %v", err)
			}
			if len(chunk.Lines) != len(tt.want) {
				t.Fatalf("got %#v, want %#v", chunk.Lines, tt.want)
			}
			for i := range tt.want {
				if chunk.Lines[i] != tt.want[i] {
					t.Fatalf("got %#v, want %#v", chunk.Lines, tt.want)
				}
			}
		})
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	chunk, err := logs.Tail(filepath.Join(t.TempDir(), "absent.log"), 5, logs.Filter{})
	if err != nil || len(chunk.Lines) != 0 || chunk.Offset != 0 {
		t.Fatalf("expected empty chunk, got %+v, %v", chunk, err)
	}
}

func TestReadFromKeepsPartialLine(t *testing.T) {
	path := writeLog(t, "one\ntw")
	chunk, err := logs.ReadFrom(path, 0, logs.Filter{})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Offset != 4 {
		t.Fatalf("unexpected chunk %+v", chunk)
	}

	appendLog(t, path, "o\n")
	chunk, err = logs.ReadFrom(path, chunk.Offset, logs.Filter{})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "two" {
		t.Fatalf("unexpected lines %#v", chunk.Lines)
	}
}

func TestReadFromRestartsAfterTruncation(t *testing.T) {
	path := writeLog(t, "fresh\n")
	chunk, err := logs.ReadFrom(path, 500, logs.Filter{})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "fresh" {
		t.Fatalf("unexpected lines %#v", chunk.Lines)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	start, err := logs.Tail(path, 1, logs.Filter{})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var mu sync.Mutex
	var got []string
	seen := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, start.Offset, 10*time.Millisecond, logs.Filter{}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
			close(seen)
		})
	}()

	time.Sleep(30 * time.Millisecond)
	appendLog(t, path, "later\n")

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not emit the appended line")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "later" {
		t.Fatalf("unexpected lines %#v", got)
	}
}
