// Package preview serves the latest annotated preview and session status over
// a local HTTP endpoint.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"miyu/internal/logging"
	"miyu/internal/sampling"
)

// LatestSource yields the most recently published sample.
type LatestSource interface {
	Latest() (sampling.Sample, bool)
}

// Status is the JSON body of GET /status.
type Status struct {
	Mode           string    `json:"mode"`
	State          string    `json:"state"`
	Generation     uint64    `json:"generation"`
	SessionID      string    `json:"session_id,omitempty"`
	Device         string    `json:"device,omitempty"`
	Tick           uint64    `json:"tick"`
	DescriptorRows int       `json:"descriptor_rows"`
	Keypoints      int       `json:"keypoints"`
	CapturedAt     time.Time `json:"captured_at,omitzero"`
	SkippedTicks   uint64    `json:"skipped_ticks"`
	LastError      string    `json:"last_error,omitempty"`
}

// StatusFunc reports the current session status. Sample fields are filled in
// by the server.
type StatusFunc func() Status

// Server is the preview HTTP server.
type Server struct {
	bind   string
	latest LatestSource
	status StatusFunc
	logger *slog.Logger

	router   chi.Router
	listener net.Listener
	server   *http.Server
}

// New returns nil when bind is empty.
func New(bind string, latest LatestSource, status StatusFunc, logger *slog.Logger) *Server {
	bind = strings.TrimSpace(bind)
	if bind == "" || latest == nil {
		return nil
	}
	s := &Server{
		bind:   bind,
		latest: latest,
		status: status,
		logger: logging.NewComponentLogger(logger, "preview"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/preview.jpg", s.handlePreview)
	r.Get("/frame.jpg", s.handleFrame)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	s.router = r

	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the bind address and shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("preview listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("preview server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("preview server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var status Status
	if s.status != nil {
		status = s.status()
	}
	if sample, ok := s.latest.Latest(); ok {
		status.Tick = sample.Seq
		status.DescriptorRows = sample.Descriptors.Rows()
		status.Keypoints = sample.Keypoints
		status.CapturedAt = sample.CapturedAt
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	sample, ok := s.latest.Latest()
	if !ok || len(sample.Preview) == 0 {
		s.writeError(w, http.StatusNotFound, "no preview available")
		return
	}
	s.writeImage(w, sample, sample.Preview)
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	sample, ok := s.latest.Latest()
	if !ok || len(sample.Image) == 0 {
		s.writeError(w, http.StatusNotFound, "no frame available")
		return
	}
	s.writeImage(w, sample, sample.Image)
}

func (s *Server) writeImage(w http.ResponseWriter, sample sampling.Sample, data []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Miyu-Tick", strconv.FormatUint(sample.Seq, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
