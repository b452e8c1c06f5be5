package preview_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"miyu/internal/extract"
	"miyu/internal/preview"
	"miyu/internal/sampling"
)

type stubLatest struct {
	sample sampling.Sample
	ok     bool
}

func (s *stubLatest) Latest() (sampling.Sample, bool) { return s.sample, s.ok }

func TestNewReturnsNilWithoutBind(t *testing.T) {
	if srv := preview.New("  ", &stubLatest{}, nil, nil); srv != nil {
		t.Fatal("expected nil server for empty bind")
	}
	var srv *preview.Server
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("nil server start: %v", err)
	}
	srv.Stop()
}

func TestPreviewEndpoints(t *testing.T) {
	latest := &stubLatest{}
	srv := preview.New("127.0.0.1:0", latest, func() preview.Status {
		return preview.Status{Mode: "get", State: "processing", Generation: 3, Device: "/dev/video0"}
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/preview.jpg")
	if err != nil {
		t.Fatalf("get preview: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before first sample, got %d", resp.StatusCode)
	}

	captured := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	latest.sample = sampling.Sample{
		Seq:         42,
		Image:       []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9},
		Preview:     []byte{0xFF, 0xD8, 0xFF, 0xD9},
		Descriptors: extract.Matrix{{1}, {2}},
		Keypoints:   2,
		CapturedAt:  captured,
	}
	latest.ok = true

	tests := []struct {
		path        string
		contentType string
		size        int
	}{
		{"/preview.jpg", "image/jpeg", 4},
		{"/frame.jpg", "image/jpeg", 5},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != tt.contentType || len(body) != tt.size {
				t.Fatalf("unexpected response %d %q %d bytes", resp.StatusCode, resp.Header.Get("Content-Type"), len(body))
			}
			if resp.Header.Get("X-Miyu-Tick") != "42" {
				t.Fatalf("unexpected tick header %q", resp.Header.Get("X-Miyu-Tick"))
			}
		})
	}

	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var status preview.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "processing" || status.Generation != 3 || status.Tick != 42 || status.DescriptorRows != 2 || !status.CapturedAt.Equal(captured) {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestHealthAndMethodHandling(t *testing.T) {
	srv := preview.New("127.0.0.1:0", &stubLatest{}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestStartServesOnBind(t *testing.T) {
	srv := preview.New("127.0.0.1:0", &stubLatest{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
