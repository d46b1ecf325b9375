package keystroke

import (
	"sync"
	"time"
)

// DefaultSuppressionLifetime bounds how long a suppression window may stay
// raised. Platform input can be lost, so waiting forever on the echo count
// would leave the matcher permanently blind.
const DefaultSuppressionLifetime = 2 * time.Second

// Suppressor is the suppression window raised around synthetic injection.
// The inserter raises it with the number of input events the injection is
// expected to echo back through the global hook; the engine consumes one
// unit per observed event and discards those events instead of feeding
// them to the matcher, so injected output can never re-trigger itself.
//
// The window lowers when the expected echoes have been observed or when
// the lifetime expires, whichever comes first. Safe for concurrent use:
// Raise comes from the injection path while Observe comes from the event
// loop.
type Suppressor struct {
	mu        sync.Mutex
	remaining int
	deadline  time.Time

	now func() time.Time // test seam
}

// NewSuppressor creates a lowered Suppressor.
func NewSuppressor() *Suppressor {
	return &Suppressor{now: time.Now}
}

// Raise opens the window for events expected echoes. A zero or negative
// lifetime uses DefaultSuppressionLifetime. Raising while already raised
// accumulates: multi-phase injections (erase, type, caret moves) extend
// the same window.
func (s *Suppressor) Raise(events int, lifetime time.Duration) {
	if events <= 0 {
		return
	}
	if lifetime <= 0 {
		lifetime = DefaultSuppressionLifetime
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining > 0 && s.now().Before(s.deadline) {
		s.remaining += events
	} else {
		s.remaining = events
	}
	s.deadline = s.now().Add(lifetime)
}

// Observe consumes one expected echo. It reports true when the observed
// event belongs to the window and must be discarded, including the final
// echo that closes it.
func (s *Suppressor) Observe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining <= 0 {
		return false
	}
	if s.now().After(s.deadline) {
		s.remaining = 0
		return false
	}
	s.remaining--
	return true
}

// Active reports whether the window is currently raised.
func (s *Suppressor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining > 0 && !s.now().After(s.deadline)
}

// Lower force-closes the window.
func (s *Suppressor) Lower() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = 0
}
