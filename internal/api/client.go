// Package api is the HTTP request layer: JSON in and out, error normalization,
// in-flight de-duplication, a short-TTL read cache and timeout handling.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"odzai/internal/cache"
	applog "odzai/internal/log"
	"odzai/internal/storage"
)

const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultTimeout         = 30 * time.Second
	defaultCacheSize       = 500
	defaultCleanupInterval = time.Minute
	defaultUserAgent       = "odzai/0.1"

	// CacheVersionKey is the session-tier key holding the cache generation.
	CacheVersionKey = "odzai.api.cacheVersion"
)

// TokenSource supplies the bearer token for a request. An empty token sends no header.
type TokenSource func(ctx context.Context) (string, error)

// Client issues JSON requests against the domain REST API. Create one per application instance.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	token     TokenSource
	timeout   time.Duration

	inflight singleflight.Group
	cache    cache.Cache[[]byte]
	cleaner  cache.Cleaner
	manager  *cache.Manager
	interval time.Duration

	store        *storage.Store
	versionMu    sync.Mutex
	localVersion string

	logger *applog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithStaticToken sends the same bearer token on every request.
func WithStaticToken(token string) Option {
	return func(c *Client) {
		if token == "" {
			return
		}
		c.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithStore keeps the cache generation in the session tier of s.
func WithStore(s *storage.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithCache replaces the response cache.
func WithCache(lru *cache.LRUCache[[]byte]) Option {
	return func(c *Client) {
		if lru != nil {
			c.cache = lru
			c.cleaner = lru
		}
	}
}

func WithCacheConfig(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			size = defaultCacheSize
		}
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		lru := cache.NewLRUCache[[]byte](size, ttl)
		c.cache = lru
		c.cleaner = lru
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// WithTimeout sets the default timeout used by EnhancedFetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *applog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient builds a Client for the API rooted at baseURL and starts the cache sweep.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	lru := cache.NewLRUCache[[]byte](defaultCacheSize, DefaultCacheTTL)
	c := &Client{
		baseURL:      base,
		http:         &http.Client{},
		userAgent:    defaultUserAgent,
		timeout:      DefaultTimeout,
		cache:        lru,
		cleaner:      lru,
		interval:     defaultCleanupInterval,
		localVersion: "0",
		logger:       applog.Default(applog.ComponentAPI),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.manager = cache.NewManager(c.logger.WithComponent(applog.ComponentCache))
	c.manager.Register(c.cleaner)
	c.manager.StartCleanup(c.interval)
	return c, nil
}

func parseBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("base url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base url %q must be http or https", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Close stops the background cache sweep.
func (c *Client) Close() {
	c.manager.Stop()
}

// URL resolves path against the base URL. Absolute URLs are returned unchanged.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// RequestOptions describes one request. Body is JSON-encoded unless it is already []byte.
type RequestOptions struct {
	Method string
	Body   any
	Header http.Header
}

type response struct {
	status int
	body   []byte
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}

// send performs the request, sharing one network call among identical concurrent requests.
// Identity is method, URL and body; the shared call is forgotten as soon as it completes.
func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*response, error) {
	key := method + " " + rawURL + " " + string(body)

	ch := c.inflight.DoChan(key, func() (any, error) {
		return c.do(ctx, method, rawURL, body, header)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*response), nil
	}
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "Request failed",
			applog.FieldMethod, method,
			applog.FieldURL, rawURL,
			applog.FieldError, err)
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 500 {
		level = slog.LevelError
	} else if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	c.logger.LogContext(ctx, level, "API request",
		applog.NewFields().WithHTTP(method, rawURL, resp.StatusCode, time.Since(start).Milliseconds()).ToSlice()...)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp.StatusCode, payload)
	}
	return &response{status: resp.StatusCode, body: payload}, nil
}

func decode[T any](res *response) (T, error) {
	var out T
	if res.status == http.StatusNoContent || len(bytes.TrimSpace(res.body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(res.body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *Client) cacheVersion() string {
	if c.store != nil {
		if v, ok := storage.Get[string](c.store, CacheVersionKey, storage.Session); ok && v != "" {
			return v
		}
	}
	c.versionMu.Lock()
	defer c.versionMu.Unlock()
	return c.localVersion
}

func (c *Client) cacheKey(rawURL string) string {
	return c.cacheVersion() + "|" + rawURL
}

// Invalidate drops the cached response for path so the next Fetcher call goes to the network.
func (c *Client) Invalidate(path string) {
	c.cache.Delete(c.cacheKey(c.URL(path)))
}

// InvalidateAll starts a new cache generation. Entries from older generations are never read again.
func (c *Client) InvalidateAll() {
	next := strconv.FormatInt(time.Now().UnixNano(), 36)
	c.versionMu.Lock()
	c.localVersion = next
	c.versionMu.Unlock()
	if c.store != nil {
		if err := c.store.Set(CacheVersionKey, next, storage.Session); err != nil {
			c.logger.Warn("Failed to persist cache version", applog.FieldError, err)
		}
	}
	c.cache.Clear()
}
