// Package engine orchestrates the snippet expansion pipeline.
//
// One serialized worker goroutine consumes the keystroke stream and owns
// every piece of mutable expansion state: the match buffer, the dynamic
// field session, the suppression bookkeeping. That single-worker
// discipline is the system's core correctness invariant: at most one
// expansion is in flight at any time, with no locks on the hot path.
//
// The engine core is OS-free: the keystroke source, the clipboard, the
// injector, and the field prompt surface are all ports injected at
// construction, so the whole pipeline runs under test against simulated
// implementations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"snipd/internal/clipboard"
	"snipd/internal/fields"
	"snipd/internal/injector"
	"snipd/internal/keystroke"
	"snipd/internal/matcher"
	"snipd/internal/notify"
	"snipd/internal/placeholder"
	"snipd/internal/snippet"
)

// ErrAlreadyRunning is returned by Start when the engine is running.
var ErrAlreadyRunning = errors.New("engine: already running")

// ErrNotRunning is returned by Stop when the engine is not running.
var ErrNotRunning = errors.New("engine: not running")

// Config tunes engine behavior.
type Config struct {
	// WordBoundary requires a non-word rune before a matched trigger.
	WordBoundary bool

	// EnableScript allows {js:expr} placeholders.
	EnableScript bool

	// ScriptTimeout bounds one script evaluation.
	ScriptTimeout time.Duration

	// SuppressionLifetime bounds the suppression window raised around an
	// injection. Zero means keystroke.DefaultSuppressionLifetime.
	SuppressionLifetime time.Duration

	// SettleDelay is the pause between a rich paste and the clipboard
	// rewrite.
	SettleDelay time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ScriptTimeout:       placeholder.DefaultScriptTimeout,
		SuppressionLifetime: keystroke.DefaultSuppressionLifetime,
		SettleDelay:         injector.DefaultSettleDelay,
	}
}

// UsageFunc receives one successful expansion. Called on its own
// goroutine; it never blocks insertion.
type UsageFunc func(command string, at time.Time)

// Options carries the engine's collaborators. Nil fields fall back to
// platform defaults (real OS ports) or no-ops.
type Options struct {
	Source    keystroke.Source
	Clipboard clipboard.Port
	Injector  injector.Injector
	Prompter  fields.Prompter
	Usage     UsageFunc
	Notifier  notify.Notifier
	Logger    *slog.Logger
}

// Counters are the engine's lifetime counters, reported over IPC.
type Counters struct {
	Matches          atomic.Uint64
	Expansions       atomic.Uint64
	FailedInserts    atomic.Uint64
	AbortedSessions  atomic.Uint64
	DroppedMatches   atomic.Uint64 // index races and session conflicts
	SuppressedEvents atomic.Uint64
	IndexSwaps       atomic.Uint64
}

// CounterSnapshot is a plain copy of the counters for serialization.
type CounterSnapshot struct {
	Matches          uint64 `json:"matches"`
	Expansions       uint64 `json:"expansions"`
	FailedInserts    uint64 `json:"failed_inserts"`
	AbortedSessions  uint64 `json:"aborted_sessions"`
	DroppedMatches   uint64 `json:"dropped_matches"`
	SuppressedEvents uint64 `json:"suppressed_events"`
	IndexSwaps       uint64 `json:"index_swaps"`
}

// Status describes the engine for the control plane.
type Status struct {
	Running          bool            `json:"running"`
	Paused           bool            `json:"paused"`
	PermissionDenied bool            `json:"permission_denied"`
	SnippetCount     int             `json:"snippet_count"`
	DroppedEvents    uint64          `json:"dropped_events"`
	Counters         CounterSnapshot `json:"counters"`
}

// Engine drives the end-to-end expansion protocol.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	source   keystroke.Source
	matcher  *matcher.Matcher
	sup      *keystroke.Suppressor
	inserter *injector.Inserter
	resolver *placeholder.Resolver
	clip     clipboard.Port
	prompter fields.Prompter
	usage    UsageFunc
	notifier notify.Notifier

	counters Counters
	paused   atomic.Bool
	denied   atomic.Bool

	mu      sync.Mutex
	running bool
	baseCtx context.Context // context handed to Start, kept for Resume retries
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine. cfg zero value is usable; missing options get
// platform defaults.
func New(cfg Config, opts Options) *Engine {
	if cfg.SuppressionLifetime <= 0 {
		cfg.SuppressionLifetime = keystroke.DefaultSuppressionLifetime
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	source := opts.Source
	if source == nil {
		source = keystroke.New()
	}
	clip := opts.Clipboard
	if clip == nil {
		clip = clipboard.New()
	}
	inj := opts.Injector
	if inj == nil {
		inj = injector.NewPlatform()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	sup := keystroke.NewSuppressor()
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		source:  source,
		matcher: matcher.New(matcher.Config{WordBoundary: cfg.WordBoundary}),
		sup:     sup,
		clip:    clip,
		resolver: placeholder.New(placeholder.Options{
			EnableScript:  cfg.EnableScript,
			ScriptTimeout: cfg.ScriptTimeout,
		}),
		prompter: opts.Prompter,
		usage:    opts.Usage,
		notifier: notifier,
	}
	e.inserter = injector.New(inj, clip, sup, injector.Config{
		SettleDelay:         cfg.SettleDelay,
		SuppressionLifetime: cfg.SuppressionLifetime,
	}, logger)
	return e
}

// LoadSnippets hot-swaps the trigger index. In-flight matches complete
// against the index version they started with; readers never observe a
// partial view.
func (e *Engine) LoadSnippets(snips []snippet.Snippet) {
	ix := matcher.BuildIndex(snips)
	e.matcher.SetIndex(ix)
	e.counters.IndexSwaps.Add(1)
	e.logger.Debug("trigger index swapped", "commands", ix.Len(), "max_len", ix.MaxCommandLen())
}

// Start begins observing keystrokes and expanding triggers.
//
// A permission denial from the OS is reported once and leaves the engine
// idle; there is no automatic retry. Resume re-attempts the hook after
// the user has granted permission outside the app.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	e.baseCtx = ctx
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.source.Start(e.ctx); err != nil {
		e.cancel()
		if errors.Is(err, keystroke.ErrPermissionDenied) {
			e.denied.Store(true)
			e.notifyf("Snippet expansion disabled",
				"The system denied global keyboard access. Grant the permission and resume.")
		}
		return fmt.Errorf("start keystroke source: %w", err)
	}
	e.denied.Store(false)
	e.running = true

	events := e.source.Events()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.worker(events)
	}()

	e.logger.Info("engine started")
	return nil
}

// Stop deterministically unhooks the keystroke source and waits for the
// worker to drain.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	err := e.source.Stop() // closes the event channel, worker exits
	e.wg.Wait()
	e.logger.Info("engine stopped")
	return err
}

// Pause stops matching without unhooking the monitor. The match buffer
// is cleared so a half-typed trigger does not survive the pause.
func (e *Engine) Pause() {
	if e.paused.CompareAndSwap(false, true) {
		e.logger.Info("engine paused")
	}
}

// Resume restores matching after Pause. An engine left idle by a
// startup permission denial re-attempts the keystroke hook here; the
// denied flag clears only when the hook succeeds.
func (e *Engine) Resume() error {
	e.mu.Lock()
	running := e.running
	ctx := e.baseCtx
	e.mu.Unlock()

	if !running && e.denied.Load() {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	if e.paused.CompareAndSwap(true, false) {
		e.logger.Info("engine resumed")
	}
	return nil
}

// Paused reports whether matching is paused.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Status reports engine state for the control plane.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	var dropped uint64
	if b, ok := e.source.(interface{ Dropped() uint64 }); ok {
		dropped = b.Dropped()
	}
	return Status{
		Running:          running,
		Paused:           e.paused.Load(),
		PermissionDenied: e.denied.Load(),
		SnippetCount:     e.matcher.Index().Len(),
		DroppedEvents:    dropped,
		Counters: CounterSnapshot{
			Matches:          e.counters.Matches.Load(),
			Expansions:       e.counters.Expansions.Load(),
			FailedInserts:    e.counters.FailedInserts.Load(),
			AbortedSessions:  e.counters.AbortedSessions.Load(),
			DroppedMatches:   e.counters.DroppedMatches.Load(),
			SuppressedEvents: e.counters.SuppressedEvents.Load(),
			IndexSwaps:       e.counters.IndexSwaps.Load(),
		},
	}
}

// worker is the single serialized goroutine that owns all expansion
// state. It exits when the source closes its event channel.
func (e *Engine) worker(events <-chan keystroke.Event) {
	for ev := range events {
		e.handleEvent(ev)
	}
}

func (e *Engine) handleEvent(ev keystroke.Event) {
	// Our own injected output echoes back through the global hook;
	// discard it before it reaches the matcher.
	if ev.Synthetic || e.sup.Observe() {
		e.counters.SuppressedEvents.Add(1)
		return
	}
	if e.paused.Load() {
		e.matcher.Reset() // the buffer stays empty for the whole pause
		return
	}

	switch ev.Kind {
	case keystroke.KindChar:
		if m, ok := e.matcher.OnChar(ev.Rune); ok {
			e.counters.Matches.Add(1)
			e.expand(m)
		}
	case keystroke.KindBackspace:
		e.matcher.OnBackspace()
	case keystroke.KindControl, keystroke.KindContextSwitch:
		e.matcher.Reset()
	}
}

// expand runs one matched trigger end to end on the worker goroutine.
func (e *Engine) expand(m matcher.Match) {
	// Look up against the index the matcher currently holds. A command
	// removed by a concurrent swap is a benign race, not a fault.
	snip, ok := e.matcher.Index().Lookup(m.Command)
	if !ok {
		e.counters.DroppedMatches.Add(1)
		e.logger.Debug("match against removed command dropped", "command", m.Command)
		return
	}
	e.logger.Debug("trigger matched", "command", m.Command, "consumed", m.Consumed)

	content := snip.Content
	if session, needed := fields.NewSession(content); needed {
		resolved, ok := e.collectFields(session)
		if !ok {
			return
		}
		content = resolved
	}

	clipText, err := e.clip.ReadText()
	if err != nil {
		clipText = "" // no text on the clipboard resolves to empty
	}
	resolved := e.resolver.Resolve(content, placeholder.Env{
		Now:       time.Now(),
		Clipboard: clipText,
	})

	err = e.inserter.Insert(injector.Request{
		Snippet: snip,
		Content: resolved,
		Erase:   m.Consumed,
		Tail:    m.Tail,
	})
	if err != nil {
		e.counters.FailedInserts.Add(1)
		switch {
		case errors.Is(err, injector.ErrPermissionDenied):
			e.denied.Store(true)
			e.logger.Error("synthetic input not permitted", "command", m.Command, "error", err)
			e.notifyf("Snippet expansion failed",
				"The system denied synthetic input. Grant the permission and try again.")
		case errors.Is(err, injector.ErrNoFocusTarget):
			e.logger.Warn("no focus target for expansion", "command", m.Command)
			e.notifyf("Snippet expansion failed", "No application has input focus.")
		default:
			e.logger.Error("insertion failed", "command", m.Command, "error", err)
			e.notifyf("Snippet expansion failed", "Could not insert %q.", m.Command)
		}
		return
	}

	e.counters.Expansions.Add(1)
	if e.usage != nil {
		cmd, at := m.Command, time.Now()
		go e.usage(cmd, at)
	}
}

// collectFields drives a dynamic field session through the prompt
// surface. The worker stays blocked for the session's duration: field
// prompts are user-paced, and the in-flight session owns the semantic
// meaning of the keystroke stream, so a new trigger cannot start.
func (e *Engine) collectFields(session *fields.Session) (string, bool) {
	if e.prompter == nil {
		e.counters.AbortedSessions.Add(1)
		e.logger.Warn("snippet needs dynamic fields but no prompt surface is wired")
		return "", false
	}

	for {
		f, ok := session.Current()
		if !ok {
			break
		}
		value, err := e.prompter.PresentField(e.ctx, f)
		if err != nil {
			session.Cancel()
			e.counters.AbortedSessions.Add(1)
			if !errors.Is(err, fields.ErrCanceled) {
				e.logger.Warn("field prompt failed", "field", f.Name, "error", err)
			}
			e.drainPending()
			return "", false
		}
		session.Confirm(value)
	}

	result, ok := session.Result()
	if !ok {
		e.counters.AbortedSessions.Add(1)
		return "", false
	}
	e.drainPending()
	return result, true
}

// drainPending discards events queued while the worker was blocked in a
// prompt. Those keystrokes were typed into the prompt surface, not the
// target application; feeding them to the matcher would fabricate
// triggers the user never typed there.
func (e *Engine) drainPending() {
	events := e.source.Events()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
			e.counters.SuppressedEvents.Add(1)
		default:
			e.matcher.Reset()
			return
		}
	}
}

// Preview resolves a command the way an expansion would, without
// prompting or injecting. Dynamic fields take their defaults; fields
// without defaults stay as {{name}} literals.
func (e *Engine) Preview(command string) (string, error) {
	snip, ok := e.matcher.Index().Lookup(command)
	if !ok {
		return "", fmt.Errorf("engine: unknown command %q", command)
	}

	content := snip.Content
	if session, needed := fields.NewSession(content); needed {
		for {
			f, ok := session.Current()
			if !ok {
				break
			}
			if f.HasDefault {
				session.Confirm(f.Default)
			} else {
				session.Confirm("{{" + f.Name + "}}")
			}
		}
		if resolved, ok := session.Result(); ok {
			content = resolved
		}
	}

	clipText, err := e.clip.ReadText()
	if err != nil {
		clipText = ""
	}
	return e.resolver.Resolve(content, placeholder.Env{
		Now:       time.Now(),
		Clipboard: clipText,
	}), nil
}

func (e *Engine) notifyf(summary, format string, args ...any) {
	go func() {
		if err := e.notifier.Notify(summary, fmt.Sprintf(format, args...)); err != nil {
			e.logger.Debug("notification failed", "error", err)
		}
	}()
}
