// Package exchange talks to the remote fingerprint backend.
//
// Retrieve asks the backend for the message stored under a passphrase and a
// descriptor matrix; Register stores a new one. Each call is exactly one HTTP
// request with no retry. Failures are classified as ErrNoMatch (422, keep
// polling), *StatusError (any other non-2xx) or *TransportError (no response).
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"miyu/internal/extract"
	"miyu/internal/logging"
)

const (
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 4 << 20

	retrievePath = "/vTag"
	registerPath = "/maker"
)

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config captures the backend settings.
type Config struct {
	BaseURL        string
	UserAgent      string
	TimeoutSeconds int
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	http   HTTPDoer
	logger *slog.Logger
	newID  func() string
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "exchange")
	}
}

// WithRequestIDs overrides request id generation (useful for tests).
func WithRequestIDs(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient constructs a backend client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			UserAgent:      strings.TrimSpace(cfg.UserAgent),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		http:   &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(nil, "exchange"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

type retrieveRequest struct {
	PassCode  string         `json:"pass_code"`
	ImageCode extract.Matrix `json:"image_code"`
}

type retrieveResponse struct {
	Data *struct {
		Words *string `json:"words"`
	} `json:"data"`
}

// Retrieve asks for the message bound to passphrase and descriptors.
func (c *Client) Retrieve(ctx context.Context, passphrase string, descriptors extract.Matrix) (string, error) {
	const op = "retrieve"
	status, body, err := c.post(ctx, op, retrievePath, retrieveRequest{PassCode: passphrase, ImageCode: descriptors})
	if err != nil {
		return "", err
	}
	var parsed retrieveResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Data == nil || parsed.Data.Words == nil {
		return "", &StatusError{
			Op:         op,
			StatusCode: status,
			Message:    "malformed response: missing data.words",
			Body:       snippet(string(body)),
		}
	}
	return *parsed.Data.Words, nil
}

// RegisterRequest is the payload stored by Register.
type RegisterRequest struct {
	Passphrase  string
	Message     string
	Descriptors extract.Matrix
	// Picture is the captured JPEG, sent base64 encoded when present.
	Picture []byte
}

type registerPayload struct {
	PassCode      string         `json:"pass_code"`
	Words         string         `json:"words"`
	ImageCode     extract.Matrix `json:"image_code"`
	PictureBase64 []byte         `json:"picture_base64,omitempty"`
}

// Confirmation is a successful registration.
type Confirmation struct {
	StatusCode int
	RequestID  string
	Body       json.RawMessage
}

// Register stores message under passphrase and descriptors.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Confirmation, error) {
	const op = "register"
	ctx, requestID := c.withRequestID(ctx)
	status, body, err := c.post(ctx, op, registerPath, registerPayload{
		PassCode:      req.Passphrase,
		Words:         req.Message,
		ImageCode:     req.Descriptors,
		PictureBase64: req.Picture,
	})
	if err != nil {
		return Confirmation{}, err
	}
	conf := Confirmation{StatusCode: status, RequestID: requestID}
	if json.Valid(body) {
		conf.Body = json.RawMessage(body)
	}
	return conf, nil
}

func (c *Client) withRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := logging.RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := c.newID()
	return logging.WithRequestID(ctx, id), id
}

func (c *Client) post(ctx context.Context, op, path string, payload any) (int, []byte, error) {
	ctx, requestID := c.withRequestID(ctx)
	logger := logging.WithContext(ctx, c.logger)

	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: encode body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("backend request failed", logging.String("op", op), logging.Error(err))
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	logger.Debug("backend responded",
		logging.String("op", op),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, body, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return resp.StatusCode, body, ErrNoMatch
	default:
		return resp.StatusCode, body, &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    extractMessage(resp.StatusCode, body),
			Body:       snippet(string(body)),
		}
	}
}
