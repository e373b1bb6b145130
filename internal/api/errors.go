package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTimeout marks a request abandoned because its deadline passed.
	ErrTimeout = errors.New("request timed out")
	// ErrCanceled marks a request abandoned because its caller went away.
	ErrCanceled = errors.New("request canceled")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
	// Payload is the response body when it was JSON.
	Payload json.RawMessage
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: status}
	trimmed := strings.TrimSpace(string(body))

	if json.Valid([]byte(trimmed)) && trimmed != "" {
		e.Payload = json.RawMessage(trimmed)
		var shape struct {
			Message string          `json:"message"`
			Error   json.RawMessage `json:"error"`
		}
		if json.Unmarshal(e.Payload, &shape) == nil {
			e.Message = shape.Message
			if e.Message == "" && len(shape.Error) > 0 {
				var s string
				if json.Unmarshal(shape.Error, &s) == nil {
					e.Message = s
				} else {
					var nested struct {
						Message string `json:"message"`
					}
					if json.Unmarshal(shape.Error, &nested) == nil {
						e.Message = nested.Message
					}
				}
			}
		}
	} else if trimmed != "" && len(trimmed) <= 200 && !strings.HasPrefix(trimmed, "<") {
		e.Message = trimmed
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Message == "" {
		e.Message = "request failed"
	}
	return e
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsCancellation reports whether err is an expected cancellation that callers
// should not surface to the user. Timeouts are failures, not cancellations.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCanceled) ||
		(errors.Is(err, context.Canceled) && !errors.Is(err, ErrTimeout))
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Message returns a human-readable description of err suitable for a notification.
func Message(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &httpErr):
		return httpErr.Message
	case errors.Is(err, ErrTimeout):
		return "The request timed out. Please try again."
	case IsCancellation(err):
		return "The request was canceled."
	default:
		return err.Error()
	}
}

// classify turns a context-caused failure into ErrTimeout or ErrCanceled.
func classify(ctx context.Context, path string, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", path, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", path, ErrCanceled)
}
