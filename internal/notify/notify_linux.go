//go:build linux

package notify

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// expireTimeout is the notification display time in milliseconds.
const expireTimeout = 5000

// dbusNotifier speaks org.freedesktop.Notifications on the session bus.
// It reuses the id the server hands back, so a new notification replaces
// the previous one instead of stacking.
type dbusNotifier struct {
	logger *slog.Logger

	mu       sync.Mutex
	conn     *dbus.Conn
	lastID   uint32
	failed   bool
	fallback LogNotifier
}

func newPlatformNotifier(logger *slog.Logger) Notifier {
	return &dbusNotifier{
		logger:   logger.With("component", "notify"),
		fallback: LogNotifier{Logger: logger},
	}
}

func (d *dbusNotifier) Notify(summary, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failed {
		return d.fallback.Notify(summary, body)
	}
	if d.conn == nil {
		conn, err := dbus.SessionBus()
		if err != nil {
			d.failed = true
			d.logger.Debug("session bus unavailable, notifications go to the log", "error", err)
			return d.fallback.Notify(summary, body)
		}
		d.conn = conn
	}

	obj := d.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	hints := map[string]dbus.Variant{
		"transient": dbus.MakeVariant(true),
	}
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"snipd",             // app name
		d.lastID,            // replaces id
		"input-keyboard",    // icon
		summary,
		body,
		[]string{}, // actions
		hints,
		int32(expireTimeout),
	)
	if call.Err != nil {
		d.logger.Debug("notification call failed", "error", call.Err)
		return d.fallback.Notify(summary, body)
	}
	if err := call.Store(&d.lastID); err != nil {
		d.lastID = 0
	}
	return nil
}
