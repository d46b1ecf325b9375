//go:build !linux

package notify

import "log/slog"

func newPlatformNotifier(logger *slog.Logger) Notifier {
	return &LogNotifier{Logger: logger}
}
