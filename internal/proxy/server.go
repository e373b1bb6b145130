// Package proxy is the same-origin fallback path for activating a workspace on
// the sync server when the client cannot reach it directly.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	applog "odzai/internal/log"
	"odzai/internal/middleware/ratelimit"
	"odzai/internal/middleware/security"
	"odzai/internal/middleware/trace"
)

const (
	ActivatePath    = "/api/sync/activate"
	upstreamPath    = "/activate"
	maxBodyBytes    = 4 << 10
	maxBudgetIDLen  = 128
	upstreamTimeout = 10 * time.Second
)

// Config describes the proxy server.
type Config struct {
	Addr string
	// UpstreamURL is the sync server base URL, e.g. http://localhost:5006.
	UpstreamURL string
	RateLimit   ratelimit.Config
	HTTPClient  *http.Client
}

// Server forwards activation requests to the sync server.
type Server struct {
	http.Server
	upstream     string
	client       *http.Client
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	logger       *applog.Logger
	shutdownOnce sync.Once
}

type activateRequest struct {
	BudgetID string `json:"budgetId"`
}

type errorResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, logger *applog.Logger) (*Server, error) {
	if logger == nil {
		logger = applog.Default(applog.ComponentProxy)
	}
	upstream, err := url.Parse(strings.TrimSpace(cfg.UpstreamURL))
	if err != nil || (upstream.Scheme != "http" && upstream.Scheme != "https") || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", cfg.UpstreamURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: upstreamTimeout}
	}

	s := &Server{
		upstream: strings.TrimRight(upstream.String(), "/") + upstreamPath,
		client:   client,
		limiter:  ratelimit.NewLimiter(cfg.RateLimit),
		tracer:   trace.NewMiddleware(security.ClientIP, logger),
		logger:   logger,
	}

	detector := security.NewDetector()
	limited := s.limiter.Middleware(security.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("POST "+ActivatePath, limited(http.HandlerFunc(s.handleActivate)))

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.tracer.Middleware(security.Headers(detector.Middleware(mux))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(r.Context())

	req, msg := parseActivateRequest(r)
	if msg != "" {
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	status, body, err := s.forward(r.Context(), req, trace.GetRequestID(r.Context()))
	if err != nil {
		logger.WarnContext(r.Context(), "Upstream activation failed",
			applog.FieldWorkspaceID, req.BudgetID,
			applog.FieldError, err)
		writeError(w, r, http.StatusBadGateway, "sync server unavailable")
		return
	}

	logger.InfoContext(r.Context(), "Workspace activated",
		applog.FieldWorkspaceID, req.BudgetID,
		"upstream_status", status)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		if status >= 200 && status < 300 {
			body = []byte(`{}`)
		} else {
			writeError(w, r, status, http.StatusText(status))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func parseActivateRequest(r *http.Request) (activateRequest, string) {
	var req activateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return req, "invalid JSON body"
	}
	req.BudgetID = strings.TrimSpace(req.BudgetID)
	switch {
	case req.BudgetID == "":
		return req, "budgetId is required"
	case len(req.BudgetID) > maxBudgetIDLen:
		return req, "budgetId is too long"
	case strings.ContainsAny(req.BudgetID, "/\\?#"):
		return req, "budgetId contains invalid characters"
	}
	return req, ""
}

// forward posts the activation upstream and returns its status and body.
func (s *Server) forward(ctx context.Context, req activateRequest, requestID string) (int, []byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, nil, fmt.Errorf("encode activation: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.upstream, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create upstream request: %w", err)
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Accept", "application/json")
	if requestID != "" {
		upReq.Header.Set(trace.HeaderRequestID, requestID)
	}

	resp, err := s.client.Do(upReq)
	if err != nil {
		return 0, nil, fmt.Errorf("post upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp.StatusCode, bytes.TrimSpace(body), nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Message: msg, RequestID: trace.GetRequestID(r.Context())})
}
