package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoMatch is returned for HTTP 422: the backend has no message for this
// passphrase and image yet. Callers keep polling.
var ErrNoMatch = errors.New("no matching fingerprint")

// StatusError reports a non-2xx response other than 422, or a 2xx body that
// could not be understood.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// TransportError reports a request that never produced a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const snippetLimit = 200

// extractMessage pulls a human readable message out of an error body.
func extractMessage(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err == nil {
			for _, key := range []string{"message", "detail", "error"} {
				if msg := stringField(payload[key]); msg != "" {
					return msg
				}
			}
		}
		return snippet(trimmed)
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unknown error"
}

func stringField(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	case map[string]any:
		return stringField(val["message"])
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return snippet(string(encoded))
	}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLimit {
		return s
	}
	cut := snippetLimit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
