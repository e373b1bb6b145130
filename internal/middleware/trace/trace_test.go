package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	applog "odzai/internal/log"
)

func TestMiddleware_RequestID(t *testing.T) {
	var seen string
	var logger *applog.Logger
	m := NewMiddleware(func(*http.Request) string { return "203.0.113.1" }, applog.Discard())
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		logger = applog.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated", incoming: "", keep: false},
		{name: "propagated", incoming: "abc-123", keep: true},
		{name: "malformed replaced", incoming: "bad id\nwith newline", keep: false},
		{name: "too long replaced", incoming: strings.Repeat("a", 65), keep: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusTeapot {
				t.Errorf("status = %d", rr.Code)
			}
			got := rr.Header().Get(HeaderRequestID)
			if got != seen {
				t.Errorf("header %q != context %q", got, seen)
			}
			if tt.keep && got != tt.incoming {
				t.Errorf("request id = %q, want %q", got, tt.incoming)
			}
			if !tt.keep && !strings.HasPrefix(got, "req_") {
				t.Errorf("request id = %q, want generated", got)
			}
			if logger == nil || logger.Component() != applog.ComponentApp {
				t.Error("request logger not in context")
			}
		})
	}
	if m.TotalRequests() != int64(len(tests)) {
		t.Errorf("TotalRequests() = %d", m.TotalRequests())
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if id := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); id != "" {
		t.Errorf("GetRequestID() = %q", id)
	}
}
