package api

import (
	"context"

	"odzai/internal/notify"
)

// Feedback configures the notifications Request emits.
type Feedback struct {
	SuccessMessage string
	ErrorMessage   string
	ShowSuccess    bool
	ShowError      bool
}

// Request runs fn and announces the outcome through n according to fb.
// The error is swallowed: the second result is false on failure.
// Cancellations are never announced.
func Request[T any](ctx context.Context, n notify.Notifier, fn func(context.Context) (T, error), fb Feedback) (T, bool) {
	if n == nil {
		n = notify.Nop{}
	}

	v, err := fn(ctx)
	if err != nil {
		if fb.ShowError && !IsCancellation(err) {
			title := fb.ErrorMessage
			if title == "" {
				title = "Request failed"
			}
			n.Notify(ctx, notify.Notification{Level: notify.LevelError, Title: title, Message: Message(err)})
		}
		var zero T
		return zero, false
	}

	if fb.ShowSuccess && fb.SuccessMessage != "" {
		n.Notify(ctx, notify.Notification{Level: notify.LevelSuccess, Title: fb.SuccessMessage})
	}
	return v, true
}
