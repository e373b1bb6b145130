// Package notify is the boundary for user-facing notifications (toasts).
// Data operations return errors; callers decide what, if anything, to announce.
package notify

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	applog "odzai/internal/log"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelLoading Level = "loading"
)

type Notification struct {
	Level   Level
	Title   string
	Message string
	// ID replaces an earlier notification with the same id, e.g. a loading toast turning into a result.
	ID string
}

// Notifier shows notifications. Notify returns the id of the shown notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) string
	Dismiss(id string)
}

var seq atomic.Int64

func nextID(n Notification) string {
	if n.ID != "" {
		return n.ID
	}
	return "n" + strconv.FormatInt(seq.Add(1), 10)
}

// LogNotifier writes notifications to the structured log. It is what the CLI uses.
type LogNotifier struct {
	logger *applog.Logger
}

func NewLogNotifier(logger *applog.Logger) *LogNotifier {
	if logger == nil {
		logger = applog.Default(applog.ComponentNotify)
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) string {
	id := nextID(n)
	args := []any{"kind", string(n.Level), "id", id}
	if n.Message != "" {
		args = append(args, "detail", n.Message)
	}
	if n.Level == LevelError {
		l.logger.ErrorContext(ctx, n.Title, args...)
	} else {
		l.logger.InfoContext(ctx, n.Title, args...)
	}
	return id
}

func (l *LogNotifier) Dismiss(string) {}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(_ context.Context, n Notification) string { return nextID(n) }
func (Nop) Dismiss(string)                                  {}

// Recorder keeps notifications in memory. Tests use it to assert on what was announced.
type Recorder struct {
	mu        sync.Mutex
	shown     []Notification
	dismissed []string
}

func (r *Recorder) Notify(_ context.Context, n Notification) string {
	n.ID = nextID(n)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return n.ID
}

func (r *Recorder) Dismiss(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed = append(r.dismissed, id)
}

// Shown returns a copy of everything notified so far.
func (r *Recorder) Shown() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.shown...)
}

// Levels lists the level of each notification in order.
func (r *Recorder) Levels() []Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Level, len(r.shown))
	for i, n := range r.shown {
		out[i] = n.Level
	}
	return out
}

func (r *Recorder) Dismissed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dismissed...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = nil
	r.dismissed = nil
}
