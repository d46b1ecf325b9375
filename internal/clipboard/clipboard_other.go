//go:build !darwin && !linux && !windows

package clipboard

// stubPort is used on unsupported platforms.
type stubPort struct{}

func newPlatformPort() Port {
	return &stubPort{}
}

func (s *stubPort) ReadText() (string, error)   { return "", ErrNotAvailable }
func (s *stubPort) WriteText(text string) error { return ErrNotAvailable }
func (s *stubPort) Write(p Payload) error       { return ErrNotAvailable }
