package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"snipd/internal/clipboard"
	"snipd/internal/fields"
	"snipd/internal/injector"
	"snipd/internal/keystroke"
	"snipd/internal/snippet"
)

type harness struct {
	engine *Engine
	source *keystroke.Simulated
	rec    *injector.Recorder
	clip   *clipboard.Memory

	mu    sync.Mutex
	usage []string
}

func newHarness(t *testing.T, prompter fields.Prompter, snips ...snippet.Snippet) *harness {
	t.Helper()
	h := &harness{
		source: keystroke.NewSimulated(),
		rec:    injector.NewRecorder(),
		clip:   clipboard.NewMemory(),
	}
	cfg := DefaultConfig()
	cfg.SettleDelay = time.Millisecond
	h.engine = New(cfg, Options{
		Source:    h.source,
		Clipboard: h.clip,
		Injector:  h.rec,
		Prompter:  prompter,
		Usage: func(command string, at time.Time) {
			h.mu.Lock()
			h.usage = append(h.usage, command)
			h.mu.Unlock()
		},
	})
	h.engine.LoadSnippets(snips)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { h.engine.Stop() })
	return h
}

func (h *harness) usageCommands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.usage))
	copy(out, h.usage)
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitExpansions(t *testing.T, n uint64) {
	t.Helper()
	waitFor(t, "expansion", func() bool {
		return h.engine.counters.Expansions.Load() >= n
	})
}

func textSnippet(command, content string) snippet.Snippet {
	return snippet.Snippet{Command: command, Content: content, Kind: snippet.KindText}
}

func TestExpandPlainSnippetByteForByte(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/sig", "Best regards,\nAda Lovelace"))

	h.source.TypeText("/sig")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if len(ops) != 2 {
		t.Fatalf("expected backspace+type, got %v", ops)
	}
	if ops[0].Kind != "backspace" || ops[0].N != 4 {
		t.Errorf("expected trigger erased with 4 backspaces, got %+v", ops[0])
	}
	if ops[1].Text != "Best regards,\nAda Lovelace" {
		t.Errorf("content not reproduced byte-for-byte: %q", ops[1].Text)
	}
	if got := h.usageCommands(); len(got) != 1 || got[0] != "/sig" {
		t.Errorf("usage ledger: %v", got)
	}
}

func TestCursorMarkerScenario(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/addr", "123 Main St {cursor} USA"))

	h.source.TypeText("/addr")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if len(ops) != 3 {
		t.Fatalf("expected backspace+type+left, got %v", ops)
	}
	if ops[1].Text != "123 Main St  USA" {
		t.Errorf("typed %q, want %q", ops[1].Text, "123 Main St  USA")
	}
	if ops[2].Kind != "left" || ops[2].N != 4 {
		t.Errorf("caret should land before \" USA\": %+v", ops[2])
	}
}

func TestLongestMatchWins(t *testing.T) {
	h := newHarness(t, nil,
		textSnippet("/s", "short"),
		textSnippet("/sig", "long"),
	)

	h.source.TypeText("/sig")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if ops[1].Text != "long" {
		t.Errorf("typing /sig must expand /sig, got %q", ops[1].Text)
	}
	if got := h.engine.counters.Matches.Load(); got != 1 {
		t.Errorf("expected exactly one match, got %d", got)
	}
}

func TestPrefixCommandResolvesOnDivergence(t *testing.T) {
	h := newHarness(t, nil,
		textSnippet("/s", "short"),
		textSnippet("/sig", "long"),
	)

	h.source.TypeText("/s ")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	// The space typed after /s diverged from /sig; it is erased with the
	// trigger and re-typed after the content.
	if ops[0].N != 3 {
		t.Errorf("expected 3 backspaces (trigger+tail), got %+v", ops[0])
	}
	if ops[1].Text != "short " {
		t.Errorf("tail space lost: %q", ops[1].Text)
	}
}

func TestBackspaceRepair(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/addr", "home"))

	h.source.TypeText("/adx")
	h.source.Backspace()
	h.source.TypeText("dr")
	h.waitExpansions(t, 1)
}

func TestContextSwitchPreventsMatch(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/sig", "signature"))

	h.source.TypeText("/si")
	h.source.SwitchContext()
	h.source.TypeText("g")

	time.Sleep(50 * time.Millisecond)
	if got := h.engine.counters.Matches.Load(); got != 0 {
		t.Errorf("trigger split across contexts must not match, got %d matches", got)
	}
}

func TestInjectedOutputNotRematched(t *testing.T) {
	h := newHarness(t, nil,
		textSnippet("/a", "/b"),
		textSnippet("/b", "bomb"),
	)

	h.source.TypeText("/a")
	h.waitExpansions(t, 1)

	// The injection echoes back through the hook: the erase backspaces
	// first, then the content, character by character.
	h.source.Backspace()
	h.source.Backspace()
	h.source.TypeText("/b")

	time.Sleep(50 * time.Millisecond)
	if got := h.engine.counters.Expansions.Load(); got != 1 {
		t.Errorf("injected /b re-triggered: %d expansions", got)
	}
	if got := h.engine.counters.SuppressedEvents.Load(); got != 4 {
		t.Errorf("expected 4 suppressed echoes, got %d", got)
	}
}

func TestDynamicFieldsCollected(t *testing.T) {
	answers := map[string]string{"name": "Grace", "org": ""}
	prompter := fields.PrompterFunc(func(ctx context.Context, f fields.Field) (string, error) {
		return answers[f.Name], nil
	})
	h := newHarness(t, prompter,
		textSnippet("/intro", "Hi, I am {{name}} from {{org:Engineering}}."),
	)

	h.source.TypeText("/intro")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if ops[1].Text != "Hi, I am Grace from Engineering." {
		t.Errorf("field substitution wrong: %q", ops[1].Text)
	}
}

func TestCanceledSessionHasNoSideEffects(t *testing.T) {
	prompter := fields.PrompterFunc(func(ctx context.Context, f fields.Field) (string, error) {
		return "", fields.ErrCanceled
	})
	h := newHarness(t, prompter, textSnippet("/intro", "Hi {{name}}"))
	h.clip.SetText("precious clipboard")

	h.source.TypeText("/intro")
	waitFor(t, "session abort", func() bool {
		return h.engine.counters.AbortedSessions.Load() == 1
	})

	if len(h.rec.Ops()) != 0 {
		t.Errorf("canceled session must not inject: %v", h.rec.Ops())
	}
	if len(h.clip.Writes()) != 0 {
		t.Error("canceled session must leave the clipboard untouched")
	}
	if got, _ := h.clip.ReadText(); got != "precious clipboard" {
		t.Errorf("clipboard content changed: %q", got)
	}
}

func TestTriggerDuringSessionIgnored(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, fields.PrompterFunc(func(ctx context.Context, f fields.Field) (string, error) {
		<-release
		return "v", nil
	}),
		textSnippet("/form", "field: {{a}}"),
		textSnippet("/other", "other"),
	)

	h.source.TypeText("/form")
	waitFor(t, "prompt to open", func() bool {
		return h.engine.counters.Matches.Load() == 1
	})

	// Typed while the prompt is up: this is prompt input, not target-app
	// input, and must not trigger /other.
	h.source.TypeText("/other")
	close(release)
	h.waitExpansions(t, 1)

	time.Sleep(50 * time.Millisecond)
	if got := h.engine.counters.Expansions.Load(); got != 1 {
		t.Errorf("trigger typed during a session expanded: %d expansions", got)
	}
	for _, cmd := range h.usageCommands() {
		if cmd == "/other" {
			t.Error("/other must not be recorded as used")
		}
	}
}

func TestIndexSwapDuringSessionCompletesAgainstOriginal(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, fields.PrompterFunc(func(ctx context.Context, f fields.Field) (string, error) {
		<-release
		return "done", nil
	}),
		textSnippet("/task", "status: {{s}}"),
	)

	h.source.TypeText("/task")
	waitFor(t, "prompt to open", func() bool {
		return h.engine.counters.Matches.Load() == 1
	})

	// Swap the /task command away mid-session.
	h.engine.LoadSnippets([]snippet.Snippet{textSnippet("/new", "n")})
	close(release)
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if ops[len(ops)-1].Text != "status: done" {
		t.Errorf("in-flight expansion must complete against its original snippet: %v", ops)
	}
}

func TestClipboardPlaceholder(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/paste", "got: {clipboard}"))
	h.clip.SetText("copied text")

	h.source.TypeText("/paste")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if ops[1].Text != "got: copied text" {
		t.Errorf("clipboard placeholder: %q", ops[1].Text)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/sig", "signature"))

	h.engine.Pause()
	h.source.TypeText("/sig")
	time.Sleep(50 * time.Millisecond)
	if got := h.engine.counters.Matches.Load(); got != 0 {
		t.Fatalf("paused engine matched %d triggers", got)
	}

	if err := h.engine.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.source.TypeText("/sig")
	h.waitExpansions(t, 1)
}

func TestFailedInsertReported(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/sig", "signature"))
	h.rec.Err = errors.New("target refused input")

	h.source.TypeText("/sig")
	waitFor(t, "failed insert", func() bool {
		return h.engine.counters.FailedInserts.Load() == 1
	})

	if got := h.engine.counters.Expansions.Load(); got != 0 {
		t.Errorf("failed insert counted as expansion: %d", got)
	}
	if got := h.usageCommands(); len(got) != 0 {
		t.Errorf("failed insertion must record no usage: %v", got)
	}
}

type deniedSource struct {
	keystroke.BaseSource
}

func (d *deniedSource) Start(ctx context.Context) error { return keystroke.ErrPermissionDenied }
func (d *deniedSource) Stop() error                     { return nil }
func (d *deniedSource) Available() (bool, string)       { return false, "denied" }

func TestPermissionDeniedLeavesEngineIdle(t *testing.T) {
	e := New(DefaultConfig(), Options{
		Source:    &deniedSource{},
		Clipboard: clipboard.NewMemory(),
		Injector:  injector.NewRecorder(),
	})

	err := e.Start(context.Background())
	if !errors.Is(err, keystroke.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	st := e.Status()
	if st.Running {
		t.Error("engine must stay idle after a permission denial")
	}
	if !st.PermissionDenied {
		t.Error("status must surface the permission condition")
	}
}

// gatedSource denies the hook until permission is granted.
type gatedSource struct {
	keystroke.Simulated
	granted bool
}

func (g *gatedSource) Start(ctx context.Context) error {
	if !g.granted {
		return keystroke.ErrPermissionDenied
	}
	return g.Simulated.Start(ctx)
}

func TestResumeRetriesAfterPermissionGranted(t *testing.T) {
	src := &gatedSource{}
	e := New(DefaultConfig(), Options{
		Source:    src,
		Clipboard: clipboard.NewMemory(),
		Injector:  injector.NewRecorder(),
	})
	e.LoadSnippets([]snippet.Snippet{textSnippet("/sig", "signature")})

	err := e.Start(context.Background())
	if !errors.Is(err, keystroke.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// Permission still missing: resume fails and the engine stays idle.
	if err := e.Resume(); !errors.Is(err, keystroke.ErrPermissionDenied) {
		t.Fatalf("resume while denied = %v", err)
	}
	if st := e.Status(); st.Running || !st.PermissionDenied {
		t.Fatalf("state after failed resume: %+v", st)
	}

	src.granted = true
	if err := e.Resume(); err != nil {
		t.Fatalf("resume after grant: %v", err)
	}
	defer e.Stop()

	st := e.Status()
	if !st.Running {
		t.Error("resume must restart the engine once permission is granted")
	}
	if st.PermissionDenied {
		t.Error("denied flag must clear on a successful hook")
	}

	src.TypeText("/sig")
	waitFor(t, "expansion after late grant", func() bool {
		return e.counters.Expansions.Load() == 1
	})
}

func TestPreview(t *testing.T) {
	h := newHarness(t, nil,
		textSnippet("/r", "roll: {random:1-1}"),
		textSnippet("/f", "hey {{who:there}}"),
	)

	got, err := h.engine.Preview("/r")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got != "roll: 1" {
		t.Errorf("preview = %q, want %q", got, "roll: 1")
	}

	got, err = h.engine.Preview("/f")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got != "hey there" {
		t.Errorf("preview with field default = %q", got)
	}

	if _, err := h.engine.Preview("/missing"); err == nil {
		t.Error("preview of unknown command must fail")
	}

	if len(h.rec.Ops()) != 0 {
		t.Error("preview must not inject")
	}
}

func TestMalformedRandomStaysLiteral(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/bad", "n={random:5-1}"))

	h.source.TypeText("/bad")
	h.waitExpansions(t, 1)

	ops := h.rec.Ops()
	if ops[1].Text != "n={random:5-1}" {
		t.Errorf("malformed token must stay literal: %q", ops[1].Text)
	}
}

func TestStopIsDeterministic(t *testing.T) {
	h := newHarness(t, nil, textSnippet("/sig", "s"))

	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.engine.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second stop: expected ErrNotRunning, got %v", err)
	}
	// Restart works after a clean stop.
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
}
