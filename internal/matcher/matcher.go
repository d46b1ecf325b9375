// Package matcher implements trigger detection over a stream of typed
// characters.
//
// The matcher is a pure string-matching state machine: it holds a bounded
// rolling buffer of recently typed runes and an immutable index of
// registered commands, and reports when the buffer's suffix completes a
// command. It knows nothing about snippet content, clipboards, or the OS,
// which keeps it testable by feeding synthetic character sequences.
//
// Overlapping commands resolve longest-match-wins, across keystrokes as
// well as within one: when a completed command is also a proper prefix of
// a longer command (say /s and /sig), the short match is withheld while
// the longer one can still complete. Typing /sig reports only /sig;
// typing /s followed by a diverging character reports /s, with the
// diverging run carried in Match.Tail so the injector can restore it
// after the expanded text.
//
// Concurrency: the index is swapped atomically and may be replaced from
// any goroutine, but OnChar/OnBackspace/Reset must be called from a single
// goroutine. The engine's serialized worker queue provides that discipline;
// the hot keystroke path takes no locks.
package matcher

import (
	"sort"
	"sync/atomic"
	"unicode"

	"snipd/internal/snippet"
)

// Index is an immutable mapping from command string to snippet, plus the
// derived bounds the match buffer needs. Build a new Index and swap it in
// whenever the snippet set changes; never mutate one in place.
type Index struct {
	byCommand map[string]*snippet.Snippet

	// prefixes holds every proper rune-prefix of every command, so the
	// matcher can tell in O(1) whether a buffer suffix could still grow
	// into a longer command.
	prefixes map[string]struct{}

	maxLen int // longest command, in runes
}

// BuildIndex derives an Index from a snippet snapshot. Snippets with
// duplicate commands keep the first definition; callers control
// precedence by ordering the slice.
func BuildIndex(snips []snippet.Snippet) *Index {
	ix := &Index{
		byCommand: make(map[string]*snippet.Snippet, len(snips)),
		prefixes:  make(map[string]struct{}),
	}
	for i := range snips {
		s := &snips[i]
		if s.Command == "" {
			continue
		}
		if _, exists := ix.byCommand[s.Command]; exists {
			continue
		}
		ix.byCommand[s.Command] = s
		runes := []rune(s.Command)
		if len(runes) > ix.maxLen {
			ix.maxLen = len(runes)
		}
		for j := 1; j < len(runes); j++ {
			ix.prefixes[string(runes[:j])] = struct{}{}
		}
	}
	return ix
}

// Lookup returns the snippet registered for command.
func (ix *Index) Lookup(command string) (*snippet.Snippet, bool) {
	s, ok := ix.byCommand[command]
	return s, ok
}

// MaxCommandLen returns the length in runes of the longest command.
func (ix *Index) MaxCommandLen() int { return ix.maxLen }

// Len returns the number of registered commands.
func (ix *Index) Len() int { return len(ix.byCommand) }

// Commands returns the registered commands in sorted order.
func (ix *Index) Commands() []string {
	out := make([]string, 0, len(ix.byCommand))
	for c := range ix.byCommand {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Match reports a completed trigger.
type Match struct {
	// Command is the matched trigger string.
	Command string

	// Consumed is the number of on-screen runes the trigger occupies:
	// the command itself plus any Tail runes typed while the match was
	// withheld. The inserter erases exactly this many characters before
	// injecting content.
	Consumed int

	// Tail holds characters the user typed after the command before the
	// match resolved. The inserter re-types them after the expanded
	// text so no user input is lost.
	Tail string
}

// Config controls boundary behavior.
type Config struct {
	// WordBoundary additionally requires the rune immediately before a
	// matched command to be a non-word rune (or the buffer start).
	// Off by default: a command may be preceded by any character, with
	// longest-match-wins resolving overlaps.
	WordBoundary bool
}

// pending is a completed command withheld because a longer command was
// still reachable when it matched.
type pending struct {
	command string
	length  int // command length in runes
	since   int // runes typed after the command completed
}

// Matcher holds the rolling buffer for the currently focused input
// context. A single buffer suffices because only one context has focus
// at a time; any focus change resets it.
type Matcher struct {
	index        atomic.Pointer[Index]
	buf          []rune
	held         *pending
	wordBoundary bool
}

// New creates a Matcher with an empty index.
func New(cfg Config) *Matcher {
	m := &Matcher{wordBoundary: cfg.WordBoundary}
	m.index.Store(BuildIndex(nil))
	return m
}

// SetIndex atomically replaces the trigger index. The rolling buffer is
// preserved, so a trigger being typed across a reload can still complete
// if its command survives the swap.
func (m *Matcher) SetIndex(ix *Index) {
	if ix == nil {
		ix = BuildIndex(nil)
	}
	m.index.Store(ix)
}

// Index returns the current index snapshot.
func (m *Matcher) Index() *Index {
	return m.index.Load()
}

// OnChar appends a typed rune and resolves trigger state. On a match the
// buffer is cleared: a command never overlaps the next one.
func (m *Matcher) OnChar(r rune) (Match, bool) {
	ix := m.index.Load()
	if ix.maxLen == 0 {
		return Match{}, false
	}

	// Keep one rune beyond the longest command so the boundary rule can
	// see the character preceding a full-length match.
	limit := ix.maxLen + 1
	m.buf = append(m.buf, r)
	if len(m.buf) > limit {
		copy(m.buf, m.buf[len(m.buf)-limit:])
		m.buf = m.buf[:limit]
	}
	if m.held != nil {
		m.held.since++
	}

	k, ok := m.longestSuffix(ix)

	// A match covering the withheld command's span supersedes it.
	if m.held != nil && ok && k >= m.held.length+m.held.since {
		return m.emit(string(m.buf[len(m.buf)-k:]), k, 0), true
	}

	if m.held != nil {
		if m.reachable(ix, m.held.length+m.held.since) {
			// A longer command is still in play; keep waiting.
			return Match{}, false
		}
		// Diverged: resolve the withheld match, carrying the runes
		// typed since it completed.
		h := *m.held
		return m.emit(h.command, h.length, h.since), true
	}

	if !ok {
		return Match{}, false
	}
	if m.reachable(ix, k) {
		m.held = &pending{command: string(m.buf[len(m.buf)-k:]), length: k}
		return Match{}, false
	}
	return m.emit(string(m.buf[len(m.buf)-k:]), k, 0), true
}

// longestSuffix finds the longest registered command ending the buffer,
// honoring the boundary rule.
func (m *Matcher) longestSuffix(ix *Index) (int, bool) {
	max := ix.maxLen
	if max > len(m.buf) {
		max = len(m.buf)
	}
	for k := max; k >= 1; k-- {
		if _, ok := ix.byCommand[string(m.buf[len(m.buf)-k:])]; !ok {
			continue
		}
		if m.wordBoundary && k < len(m.buf) && isWordRune(m.buf[len(m.buf)-k-1]) {
			continue
		}
		return k, true
	}
	return 0, false
}

// reachable reports whether some buffer suffix of at least span runes is
// a proper prefix of a registered command, meaning a longer match that
// would cover that span can still complete.
func (m *Matcher) reachable(ix *Index, span int) bool {
	max := ix.maxLen - 1
	if max > len(m.buf) {
		max = len(m.buf)
	}
	for p := span; p <= max; p++ {
		if _, ok := ix.prefixes[string(m.buf[len(m.buf)-p:])]; ok {
			return true
		}
	}
	return false
}

func (m *Matcher) emit(command string, length, since int) Match {
	tail := ""
	if since > 0 {
		tail = string(m.buf[len(m.buf)-since:])
	}
	m.buf = m.buf[:0]
	m.held = nil
	return Match{Command: command, Consumed: length + since, Tail: tail}
}

// OnBackspace removes the last buffered rune, letting the user correct a
// typo without losing a near-complete trigger.
func (m *Matcher) OnBackspace() {
	if len(m.buf) > 0 {
		m.buf = m.buf[:len(m.buf)-1]
	}
	if m.held != nil {
		if m.held.since > 0 {
			m.held.since--
		} else {
			// Backspacing into the command itself abandons the match;
			// retyping the final rune will complete it again.
			m.held = nil
		}
	}
}

// Reset clears all trigger state. Called for any non-text control key and
// for focus or application switches: a trigger must be typed contiguously
// in one context, and a withheld match cannot be injected once the caret
// has moved.
func (m *Matcher) Reset() {
	m.buf = m.buf[:0]
	m.held = nil
}

// BufferLen returns the number of buffered runes.
func (m *Matcher) BufferLen() int { return len(m.buf) }

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
