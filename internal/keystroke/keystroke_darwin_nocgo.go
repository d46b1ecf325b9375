//go:build darwin && !cgo

package keystroke

import (
	"context"
)

// DarwinSource is a stub when CGO is not available. The real
// implementation needs CGO for the CGEventTap API.
type DarwinSource struct {
	BaseSource
}

func newPlatformSource() Source {
	return &DarwinSource{}
}

// Available returns false when CGO is not available.
func (d *DarwinSource) Available() (bool, string) {
	return false, "macOS keystroke observation requires CGO (rebuild with CGO_ENABLED=1)"
}

// Start returns an error when CGO is not available.
func (d *DarwinSource) Start(ctx context.Context) error {
	return ErrNotAvailable
}

// Stop is a no-op.
func (d *DarwinSource) Stop() error {
	return nil
}

// CheckAccessibility returns false without CGO.
func CheckAccessibility() bool {
	return false
}

// PromptAccessibility returns false without CGO.
func PromptAccessibility() bool {
	return false
}
