package cli

import (
	"context"
	"io"
	"strconv"
	"sync/atomic"

	"odzai/internal/notify"
)

// consoleNotifier prints notifications as status lines. Loading notifications are
// printed once; the success or error that replaces them is printed on its own line.
type consoleNotifier struct {
	w   io.Writer
	seq atomic.Int64
}

func newConsoleNotifier(w io.Writer) *consoleNotifier {
	return &consoleNotifier{w: w}
}

func (c *consoleNotifier) Notify(_ context.Context, n notify.Notification) string {
	id := n.ID
	if id == "" {
		id = "cli-" + strconv.FormatInt(c.seq.Add(1), 10)
	}
	msg := n.Title
	if n.Message != "" {
		msg += ": " + n.Message
	}
	switch n.Level {
	case notify.LevelSuccess:
		PrintSuccess(c.w, msg)
	case notify.LevelError:
		PrintError(c.w, msg)
	case notify.LevelLoading:
		PrintEmptyState(c.w, msg)
	default:
		PrintLabelValue(c.w, "info", msg)
	}
	return id
}

func (c *consoleNotifier) Dismiss(string) {}
