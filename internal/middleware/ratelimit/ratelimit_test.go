package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestLimiter_Allow(t *testing.T) {
	rl := NewLimiter(Config{Requests: 3, Window: time.Minute})
	defer rl.Stop()
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl.SetClock(clk.Now)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("fourth request allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other client limited")
	}
	if rl.Hits() != 1 {
		t.Errorf("Hits() = %d", rl.Hits())
	}

	clk.Advance(30 * time.Second)
	if rl.Allow("1.2.3.4") {
		t.Error("rejected requests must not extend the window")
	}
	if got := rl.retryAfter("1.2.3.4"); got != 30 {
		t.Errorf("retryAfter = %d, want 30", got)
	}
	clk.Advance(30 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("new window should allow")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	rl := NewLimiter(Config{Requests: 1, Window: time.Minute})
	defer rl.Stop()
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl.SetClock(clk.Now)

	rl.Allow("a")
	clk.Advance(90 * time.Second)
	rl.Allow("b")
	clk.Advance(45 * time.Second)

	if removed := rl.cleanupStaleEntries(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if rl.ActiveClients() != 1 {
		t.Errorf("ActiveClients() = %d", rl.ActiveClients())
	}
}

func TestLimiter_Middleware(t *testing.T) {
	rl := NewLimiter(Config{Requests: 1, Window: time.Minute})
	defer rl.Stop()
	h := rl.Middleware(func(r *http.Request) string { return "ip" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		if rr.Code != want {
			t.Errorf("request %d status = %d, want %d", i, rr.Code, want)
		}
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
