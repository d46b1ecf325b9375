//go:build !darwin && !linux && !windows

package injector

// stubInjector is used on unsupported platforms.
type stubInjector struct{}

func newPlatformInjector() Injector {
	return &stubInjector{}
}

func (s *stubInjector) Available() (bool, string) {
	return false, "synthetic input not implemented for this platform"
}

func (s *stubInjector) TypeText(text string) error { return ErrNotAvailable }
func (s *stubInjector) Backspace(n int) error      { return ErrNotAvailable }
func (s *stubInjector) MoveLeft(n int) error       { return ErrNotAvailable }
func (s *stubInjector) Paste() error               { return ErrNotAvailable }
