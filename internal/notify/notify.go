// Package notify surfaces transient, non-blocking user notifications.
//
// Failures during expansion must never interrupt typing, so everything
// here is fire-and-forget: a failed notification is logged and dropped.
// Repeated notifications for the same condition coalesce: the Linux
// backend reuses the server-side notification id and a throttle swallows
// repeats inside a short window, so a flapping failure produces one
// bubble, not a stack of them.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers one transient notification to the user.
type Notifier interface {
	// Notify shows a short notification. Never blocks on user action.
	Notify(summary, body string) error
}

// DefaultThrottleWindow is how long repeats of the same summary are
// swallowed.
const DefaultThrottleWindow = 30 * time.Second

// New returns the platform notifier wrapped in a single repeat
// throttle; window <= 0 picks the default. On platforms without a
// desktop notification service this degrades to the log notifier.
func New(logger *slog.Logger, window time.Duration) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return Throttled(newPlatformNotifier(logger), window)
}

// LogNotifier writes notifications to the structured log. Used headless
// and as the fallback when the desktop service is unreachable.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification at Info.
func (l *LogNotifier) Notify(summary, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "summary", summary, "body", body)
	return nil
}

// throttle wraps a Notifier and swallows repeats of the same summary
// inside the window.
type throttle struct {
	next   Notifier
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time // test seam
}

// Throttled wraps next so that repeated notifications with the same
// summary are delivered at most once per window.
func Throttled(next Notifier, window time.Duration) Notifier {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &throttle{
		next:   next,
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func (t *throttle) Notify(summary, body string) error {
	t.mu.Lock()
	last, ok := t.seen[summary]
	now := t.now()
	if ok && now.Sub(last) < t.window {
		t.mu.Unlock()
		return nil
	}
	t.seen[summary] = now
	t.mu.Unlock()
	return t.next.Notify(summary, body)
}
