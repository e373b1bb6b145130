package api

import (
	"context"
	"net/http"
	"time"
)

// FetchWithErrorHandling issues the request and decodes a JSON response into T.
// Non-2xx responses come back as *HTTPError; 204 and empty bodies yield the zero T.
// Concurrent identical requests share one network call, run under the first caller's ctx.
// Every sharer gets the same result, so a cancellation of the first caller reaches the
// others as a cancellation error too.
func FetchWithErrorHandling[T any](ctx context.Context, c *Client, path string, opts RequestOptions) (T, error) {
	var zero T
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	body, err := encodeBody(opts.Body)
	if err != nil {
		return zero, err
	}
	res, err := c.send(ctx, method, c.URL(path), body, opts.Header)
	if err != nil {
		return zero, err
	}
	return decode[T](res)
}

// Fetcher is a read-through cached GET. Fresh cache hits skip the network; only
// successful responses are cached, and concurrent misses share one call and its error.
func Fetcher[T any](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	rawURL := c.URL(path)
	key := c.cacheKey(rawURL)

	if body, ok := c.cache.Get(key); ok {
		return decode[T](&response{status: http.StatusOK, body: body})
	}

	res, err := c.send(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return zero, err
	}
	c.cache.Set(key, res.body)
	return decode[T](res)
}

// EnhancedFetch is FetchWithErrorHandling bounded by timeout (the client default when zero).
// Failures caused by the deadline wrap ErrTimeout; failures caused by ctx wrap ErrCanceled.
func EnhancedFetch[T any](ctx context.Context, c *Client, path string, opts RequestOptions, timeout time.Duration) (T, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	v, err := FetchWithErrorHandling[T](ctx, c, path, opts)
	return v, classify(ctx, path, err)
}

func Get[T any](ctx context.Context, c *Client, path string) (T, error) {
	return FetchWithErrorHandling[T](ctx, c, path, RequestOptions{Method: http.MethodGet})
}

func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return FetchWithErrorHandling[T](ctx, c, path, RequestOptions{Method: http.MethodPost, Body: body})
}

func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return FetchWithErrorHandling[T](ctx, c, path, RequestOptions{Method: http.MethodPut, Body: body})
}

func Patch[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return FetchWithErrorHandling[T](ctx, c, path, RequestOptions{Method: http.MethodPatch, Body: body})
}

func Del[T any](ctx context.Context, c *Client, path string) (T, error) {
	return FetchWithErrorHandling[T](ctx, c, path, RequestOptions{Method: http.MethodDelete})
}

// Refresh fetches path from the network without joining an in-flight request and
// stores the response for later Fetcher calls.
func Refresh[T any](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	rawURL := c.URL(path)
	res, err := c.do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return zero, err
	}
	c.cache.Set(c.cacheKey(rawURL), res.body)
	return decode[T](res)
}
