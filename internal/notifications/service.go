package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"miyu/internal/config"
)

const userAgent = "miyu/0.1.0"

// Event names a session milestone.
type Event string

const (
	EventSessionStarted    Event = "session_started"
	EventSessionStopped    Event = "session_stopped"
	EventMatchFound        Event = "match_found"
	EventMessageRegistered Event = "message_registered"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries event details.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service when a topic is configured and a
// no-op service otherwise.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewNoop returns a service that drops every event.
func NewNoop() Service {
	return noopService{}
}

// Multi fans an event out to every service and joins their errors.
func Multi(services ...Service) Service {
	filtered := make(multiService, 0, len(services))
	for _, svc := range services {
		if svc != nil {
			filtered = append(filtered, svc)
		}
	}
	return filtered
}

type multiService []Service

func (m multiService) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, svc := range m {
		if err := svc.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type notice struct {
	title    string
	message  string
	tags     []string
	priority string
}

// format renders event; ok is false for events that are not worth a push.
func format(event Event, payload Payload) (notice, bool) {
	switch event {
	case EventMatchFound:
		return notice{
			title:    "miyu - Message Revealed",
			message:  "🔓 A hidden message was revealed",
			tags:     []string{"miyu", "match", "revealed"},
			priority: "high",
		}, true
	case EventMessageRegistered:
		msg := "📝 Message registered"
		if id := payloadString(payload, "requestID"); id != "" {
			msg = fmt.Sprintf("%s (request %s)", msg, id)
		}
		return notice{
			title:   "miyu - Message Registered",
			message: msg,
			tags:    []string{"miyu", "maker", "registered"},
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("❌ Error")
		if label := payloadString(payload, "context"); label != "" {
			b.WriteString(" with ")
			b.WriteString(label)
		}
		if detail := payloadString(payload, "error"); detail != "" {
			b.WriteString(": ")
			b.WriteString(detail)
		}
		return notice{
			title:    "miyu - Error",
			message:  b.String(),
			tags:     []string{"miyu", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return notice{
			title:    "miyu - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"miyu", "test"},
			priority: "low",
		}, true
	default:
		return notice{}, false
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	data, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data notice) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Console prints notices to a writer and rings the bell on a revealed
// message.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	bell bool
}

// NewConsole writes to out. The bell is only rung when enabled and out is a
// terminal.
func NewConsole(out io.Writer, bell bool) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{out: out, bell: bell && isTerminal(out)}
}

// WithBell forces the bell on or off regardless of the writer.
func (c *Console) WithBell(enabled bool) *Console {
	c.mu.Lock()
	c.bell = enabled
	c.mu.Unlock()
	return c
}

// Publish writes a one-line notice. Session start/stop events print nothing.
func (c *Console) Publish(_ context.Context, event Event, payload Payload) error {
	data, ok := format(event, payload)
	if !ok || event == EventTest {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	line := data.message
	if event == EventMatchFound && c.bell {
		line = "\a" + line
	}
	_, err := fmt.Fprintln(c.out, line)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Deduper forwards an event to next unless it repeats the previous one (same
// event, context and error text) within window.
type Deduper struct {
	next   Service
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	last   string
	lastAt time.Time
}

// NewDeduper wraps next. A nil now uses time.Now.
func NewDeduper(next Service, window time.Duration, now func() time.Time) *Deduper {
	if next == nil {
		next = NewNoop()
	}
	if now == nil {
		now = time.Now
	}
	return &Deduper{next: next, window: window, now: now}
}

// Publish forwards the event unless it is a recent repeat.
func (d *Deduper) Publish(ctx context.Context, event Event, payload Payload) error {
	key := string(event) + "\x00" + payloadString(payload, "context") + "\x00" + payloadString(payload, "error")
	at := d.now()

	d.mu.Lock()
	if key == d.last && at.Sub(d.lastAt) < d.window {
		d.mu.Unlock()
		return nil
	}
	d.last = key
	d.lastAt = at
	d.mu.Unlock()

	return d.next.Publish(ctx, event, payload)
}
