// Package injector delivers expanded content into the focused application.
//
// The inserter erases the typed trigger with synthetic backspaces, then
// either types the replacement text or pastes rich content through the
// clipboard, and finally leaves the plain textual representation of the
// snippet on the clipboard so a manual paste retry is always possible.
// Every synthetic event is announced to the suppression window first, so
// the keystroke monitor discards the echoes instead of feeding them back
// into the trigger matcher.
//
// The OS-level calls sit behind the Injector port; platform files provide
// one implementation per GOOS and the Recorder stands in for tests.
package injector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rivo/uniseg"

	"snipd/internal/clipboard"
	"snipd/internal/keystroke"
	"snipd/internal/placeholder"
	"snipd/internal/snippet"
)

// ErrPermissionDenied is returned when the OS refuses synthetic input.
// The caller must not retry until the user grants permission.
var ErrPermissionDenied = errors.New("injector: synthetic input not permitted")

// ErrNoFocusTarget is returned when no application holds input focus.
var ErrNoFocusTarget = errors.New("injector: no focused application to inject into")

// ErrNotAvailable is returned on platforms without an injection backend.
var ErrNotAvailable = errors.New("injector: not available on this platform")

// NewPlatform returns the Injector for the current platform.
func NewPlatform() Injector {
	return newPlatformInjector()
}

// Injector is the OS synthetic-input port.
type Injector interface {
	// TypeText injects text as synthetic keystrokes.
	TypeText(text string) error

	// Backspace injects n backspace presses.
	Backspace(n int) error

	// MoveLeft injects n left-arrow presses to position the caret.
	MoveLeft(n int) error

	// Paste injects the platform paste chord.
	Paste() error

	// Available reports whether injection can work right now, with a
	// human-readable detail.
	Available() (bool, string)
}

// pasteEchoes is how many input events a paste chord is expected to echo
// through the global hook (modifier down, key, modifier up).
const pasteEchoes = 3

// DefaultSettleDelay is how long the inserter waits after a paste before
// rewriting the clipboard, giving the target application time to read
// the paste buffer.
const DefaultSettleDelay = 300 * time.Millisecond

// Config tunes the inserter.
type Config struct {
	// SettleDelay overrides DefaultSettleDelay when positive.
	SettleDelay time.Duration

	// SuppressionLifetime bounds the suppression window raised around an
	// injection. Zero means keystroke.DefaultSuppressionLifetime.
	SuppressionLifetime time.Duration
}

// Request is one insertion to perform.
type Request struct {
	// Snippet is the matched definition.
	Snippet *snippet.Snippet

	// Content is the fully resolved text for text kinds, with any
	// {cursor} marker still embedded. Ignored for rich kinds.
	Content string

	// Erase is how many on-screen characters the trigger occupies; they
	// are removed with synthetic backspaces before content goes in.
	Erase int

	// Tail is text the user typed after the trigger before the match
	// resolved; it is re-typed after the content so nothing is lost.
	Tail string

	// HTML is an optional rich-text rendering (markdown kind) pasted as
	// text/html alongside the plain text.
	HTML string
}

// Inserter performs insertions. One instance serves the whole engine;
// the engine's worker queue serializes calls.
type Inserter struct {
	inj    Injector
	clip   clipboard.Port
	sup    *keystroke.Suppressor
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
}

// New creates an Inserter. A nil logger falls back to slog.Default.
func New(inj Injector, clip clipboard.Port, sup *keystroke.Suppressor, cfg Config, logger *slog.Logger) *Inserter {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inserter{
		inj:    inj,
		clip:   clip,
		sup:    sup,
		cfg:    cfg,
		logger: logger.With("component", "injector"),
	}
}

// Insert performs one insertion end to end. It runs on the caller's
// goroutine and returns once the content is delivered and the clipboard
// holds the snippet's plain text.
func (ins *Inserter) Insert(req Request) error {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	if ok, detail := ins.inj.Available(); !ok {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	}

	if req.Snippet != nil && req.Snippet.Kind == snippet.KindMarkdown && req.HTML == "" {
		plain, _, _ := splitPlain(req.Content)
		html, err := RenderMarkdown(plain)
		if err != nil {
			ins.logger.Warn("markdown render failed, pasting plain text", "error", err)
		} else {
			req.HTML = html
		}
	}
	if req.Snippet != nil && req.Snippet.IsRich() {
		return ins.insertRich(req)
	}
	return ins.insertText(req)
}

// insertText erases the trigger, types the replacement, and walks the
// caret back to an embedded {cursor} position.
func (ins *Inserter) insertText(req Request) error {
	before, after, hasCursor := placeholder.SplitCursor(req.Content)
	text := before + after + req.Tail

	erase := req.Erase
	typed := uniseg.GraphemeClusterCount(text)
	moves := 0
	if hasCursor {
		moves = uniseg.GraphemeClusterCount(after + req.Tail)
	}

	ins.sup.Raise(erase+typed+moves, ins.cfg.SuppressionLifetime)

	if err := ins.inj.Backspace(erase); err != nil {
		ins.sup.Lower()
		return fmt.Errorf("erase trigger: %w", err)
	}
	if err := ins.inj.TypeText(text); err != nil {
		ins.sup.Lower()
		return fmt.Errorf("type content: %w", err)
	}
	if moves > 0 {
		if err := ins.inj.MoveLeft(moves); err != nil {
			// The text is already delivered; a failed caret move is not
			// worth surfacing as a failed expansion.
			ins.logger.Warn("caret positioning failed", "error", err)
		}
	}

	if err := ins.clip.WriteText(before + after); err != nil {
		ins.logger.Warn("clipboard rewrite failed", "error", err)
	}
	return nil
}

// insertRich writes every representation to the clipboard and performs a
// single paste, then rewrites the clipboard with the plain text.
func (ins *Inserter) insertRich(req Request) error {
	s := req.Snippet
	plain := s.PlainText()
	if req.Content != "" {
		plain, _, _ = splitPlain(req.Content)
	}

	payload := clipboard.Payload{Text: plain, HTML: req.HTML}
	for _, item := range s.RichItems {
		payload.Items = append(payload.Items, clipboard.Item{
			Kind: clipboard.ItemKind(item.Kind),
			Data: item.Data,
			URI:  item.URI,
		})
	}

	tailTyped := uniseg.GraphemeClusterCount(req.Tail)
	ins.sup.Raise(req.Erase+pasteEchoes+tailTyped, ins.cfg.SuppressionLifetime)

	if err := ins.inj.Backspace(req.Erase); err != nil {
		ins.sup.Lower()
		return fmt.Errorf("erase trigger: %w", err)
	}
	if err := ins.clip.Write(payload); err != nil {
		ins.sup.Lower()
		return fmt.Errorf("stage clipboard: %w", err)
	}
	if err := ins.inj.Paste(); err != nil {
		ins.sup.Lower()
		return fmt.Errorf("paste: %w", err)
	}
	if req.Tail != "" {
		if err := ins.inj.TypeText(req.Tail); err != nil {
			ins.logger.Warn("tail re-type failed", "error", err)
		}
	}

	// Give the target application time to read the paste buffer before
	// replacing it with the plain representation.
	time.Sleep(ins.cfg.SettleDelay)
	if err := ins.clip.WriteText(plain); err != nil {
		ins.logger.Warn("clipboard rewrite failed", "error", err)
	}
	return nil
}

// splitPlain strips a {cursor} marker out of resolved content.
func splitPlain(content string) (string, string, bool) {
	before, after, found := placeholder.SplitCursor(content)
	return before + after, "", found
}

// Recorder is an in-memory Injector for tests. It records every
// operation in order.
type Recorder struct {
	mu  sync.Mutex
	ops []Op

	// Unavailable, when set, makes Available report false with Detail.
	Unavailable bool
	Detail      string

	// Err, when set, is returned by every injection call.
	Err error
}

// Op is one recorded injector operation.
type Op struct {
	Kind string // "type", "backspace", "left", "paste"
	Text string
	N    int
}

// NewRecorder creates an available Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(op Op) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	return nil
}

// TypeText records a type operation.
func (r *Recorder) TypeText(text string) error {
	if text == "" {
		return nil
	}
	return r.record(Op{Kind: "type", Text: text})
}

// Backspace records an erase operation.
func (r *Recorder) Backspace(n int) error {
	if n <= 0 {
		return nil
	}
	return r.record(Op{Kind: "backspace", N: n})
}

// MoveLeft records a caret move.
func (r *Recorder) MoveLeft(n int) error {
	if n <= 0 {
		return nil
	}
	return r.record(Op{Kind: "left", N: n})
}

// Paste records a paste chord.
func (r *Recorder) Paste() error {
	return r.record(Op{Kind: "paste"})
}

// Available reports the configured availability.
func (r *Recorder) Available() (bool, string) {
	if r.Unavailable {
		return false, r.Detail
	}
	return true, "recorder"
}

// Ops returns the recorded operations in order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// Reset clears recorded operations.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}
