// Package keystroke provides system-wide keyboard observation.
//
// Unlike a logger, nothing observed here is ever persisted: characters
// exist only long enough to update the trigger matcher's bounded rolling
// buffer (at most one rune beyond the longest registered command) and are
// then gone. The daemon records which snippets were expanded, never what
// was typed around them.
//
// Platform support:
//   - Linux: reads /dev/input/event* (requires membership in the input
//     group or root); mouse clicks surface as context switches
//   - macOS: CGEventTap (requires Accessibility permission, cgo build)
//   - Windows: low-level keyboard hook via SetWindowsHookEx
//
// Every implementation forwards normalized events on a buffered channel
// and must never block the OS input pipeline; when the consumer falls
// behind, events are dropped and counted rather than queued unboundedly.
package keystroke

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Source observes global keyboard input and emits normalized events.
type Source interface {
	// Start begins observation. It returns ErrPermissionDenied when the
	// OS refuses global input access; the caller must not retry until
	// the user has granted permission.
	Start(ctx context.Context) error

	// Stop deterministically unregisters the OS hook and closes the
	// event channel.
	Stop() error

	// Events returns the normalized event stream. The channel is closed
	// by Stop.
	Events() <-chan Event

	// Available reports whether observation can work on this platform
	// with current permissions, with a human-readable detail.
	Available() (bool, string)
}

// Kind classifies a normalized input event.
type Kind int

const (
	// KindChar is a printable character.
	KindChar Kind = iota
	// KindBackspace removes the last typed character.
	KindBackspace
	// KindControl is any other non-text key (enter, tab, arrows, modifiers).
	KindControl
	// KindContextSwitch reports that the focused input context changed.
	KindContextSwitch
)

func (k Kind) String() string {
	switch k {
	case KindChar:
		return "char"
	case KindBackspace:
		return "backspace"
	case KindControl:
		return "control"
	case KindContextSwitch:
		return "context-switch"
	}
	return "unknown"
}

// Event is one normalized input observation.
type Event struct {
	Kind Kind
	// Rune is set for KindChar.
	Rune rune
	// Key names the control key for KindControl, for diagnostics only.
	Key string
	// Synthetic marks an event the OS reports as injected rather than
	// typed on hardware. Windows low-level hooks expose this directly;
	// platforms that can't tell leave it false and rely on the
	// suppression window instead.
	Synthetic bool
	// When is the observation time.
	When time.Time
}

// ErrNotAvailable is returned when keyboard observation isn't available.
var ErrNotAvailable = errors.New("keyboard observation not available on this platform")

// ErrPermissionDenied is returned when permissions are insufficient.
var ErrPermissionDenied = errors.New("insufficient permissions for keyboard observation")

// ErrAlreadyRunning is returned when Start is called while already running.
var ErrAlreadyRunning = errors.New("source already running")

// eventBuffer bounds the pending event queue between the OS callback and
// the engine worker.
const eventBuffer = 100

// BaseSource provides common functionality for platform implementations.
type BaseSource struct {
	mu      sync.RWMutex
	running bool
	events  chan Event
	dropped atomic.Uint64
}

// Events returns the event channel, creating it if needed. Stop closes
// the channel; a later Events call after a restart returns a fresh one.
func (b *BaseSource) Events() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(chan Event, eventBuffer)
	}
	return b.events
}

// Emit forwards an event without blocking. A full queue drops the event
// and bumps the drop counter; the OS input pipeline is never stalled.
func (b *BaseSource) Emit(ev Event) {
	b.mu.RLock()
	ch := b.events
	b.mu.RUnlock()
	if ch == nil {
		b.dropped.Add(1)
		return
	}
	select {
	case ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the consumer
// fell behind.
func (b *BaseSource) Dropped() uint64 {
	return b.dropped.Load()
}

// CloseEvents closes the event channel.
func (b *BaseSource) CloseEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events != nil {
		close(b.events)
		b.events = nil
	}
}

// SetRunning sets the running state.
func (b *BaseSource) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

// IsRunning returns the running state.
func (b *BaseSource) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// New creates a Source for the current platform.
func New() Source {
	return newPlatformSource()
}

// Simulated is a Source for testing that doesn't hook a real keyboard.
type Simulated struct {
	BaseSource
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSimulated creates a source for testing.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Start begins the simulated source.
func (s *Simulated) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.SetRunning(true)
	return nil
}

// Stop stops the simulated source.
func (s *Simulated) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.SetRunning(false)
	s.CloseEvents()
	return nil
}

// Available returns true (simulated is always available).
func (s *Simulated) Available() (bool, string) {
	return true, "simulated source (for testing)"
}

// TypeText emits one character event per rune of text.
func (s *Simulated) TypeText(text string) {
	for _, r := range text {
		s.TypeRune(r)
	}
}

// TypeRune emits a single character event.
func (s *Simulated) TypeRune(r rune) {
	if s.IsRunning() {
		s.Emit(Event{Kind: KindChar, Rune: r, When: time.Now()})
	}
}

// Backspace emits a backspace event.
func (s *Simulated) Backspace() {
	if s.IsRunning() {
		s.Emit(Event{Kind: KindBackspace, When: time.Now()})
	}
}

// Control emits a named control-key event.
func (s *Simulated) Control(key string) {
	if s.IsRunning() {
		s.Emit(Event{Kind: KindControl, Key: key, When: time.Now()})
	}
}

// SwitchContext emits a context-switch event.
func (s *Simulated) SwitchContext() {
	if s.IsRunning() {
		s.Emit(Event{Kind: KindContextSwitch, When: time.Now()})
	}
}
