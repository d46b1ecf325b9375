// Package fields implements the dynamic-field pass over snippet content.
//
// Tokens of the form {{name}} or {{name:default}} are collected from the
// content in order of first appearance and filled one at a time from user
// input. The Session is a plain state machine driven by the engine's
// worker goroutine: it never blocks, renders nothing, and talks to no OS
// surface. The prompt itself goes through the Prompter boundary so the
// engine core stays UI-free.
//
// Confirmed values are substituted raw. They are never re-scanned for
// placeholders, so a user can type "{date}" into a prompt and get exactly
// that text.
package fields

import (
	"context"
	"errors"
	"strings"
)

// ErrCanceled is returned by a Prompter when the user dismisses the
// prompt instead of confirming a value.
var ErrCanceled = errors.New("fields: prompt canceled")

// Field is one unresolved dynamic field.
type Field struct {
	Name       string
	Default    string
	HasDefault bool
}

// Prompter collects a value for one field from the user. Implementations
// return ErrCanceled when the user cancels; any other error also aborts
// the session.
type Prompter interface {
	PresentField(ctx context.Context, f Field) (string, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, f Field) (string, error)

// PresentField calls fn.
func (fn PrompterFunc) PresentField(ctx context.Context, f Field) (string, error) {
	return fn(ctx, f)
}

// State is the session lifecycle state.
type State int

const (
	// Collecting waits for the current field's value.
	Collecting State = iota
	// Resolved holds fully-substituted content.
	Resolved
	// Aborted is a canceled session; it produces no output.
	Aborted
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Resolved:
		return "resolved"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// token is one complete {{...}} occurrence in the content.
type token struct {
	start, end int // byte offsets, end past the closing braces
	field      Field
}

// scanTokens finds every complete field token in a single left-to-right
// pass. Unterminated or empty-name tokens are not fields and are skipped,
// staying literal in the output.
func scanTokens(content string) []token {
	var out []token
	for i := 0; i+3 < len(content); {
		open := strings.Index(content[i:], "{{")
		if open < 0 {
			break
		}
		open += i
		close := strings.Index(content[open+2:], "}}")
		if close < 0 {
			break
		}
		close += open + 2
		body := content[open+2 : close]
		if body == "" || strings.ContainsAny(body, "{}") {
			i = open + 2
			continue
		}
		name, def, hasDef := strings.Cut(body, ":")
		if name == "" {
			i = open + 2
			continue
		}
		out = append(out, token{
			start: open,
			end:   close + 2,
			field: Field{Name: name, Default: def, HasDefault: hasDef},
		})
		i = close + 2
	}
	return out
}

// Fields returns the unresolved fields of content in order of first
// appearance. A name appearing more than once is collected once; the
// first occurrence decides its default.
func Fields(content string) []Field {
	var out []Field
	seen := make(map[string]struct{})
	for _, tok := range scanTokens(content) {
		if _, dup := seen[tok.field.Name]; dup {
			continue
		}
		seen[tok.field.Name] = struct{}{}
		out = append(out, tok.field)
	}
	return out
}

// Session collects values for one expansion's dynamic fields. All methods
// must be called from a single goroutine; the engine's serialized worker
// provides that.
type Session struct {
	content string
	fields  []Field
	values  map[string]string
	idx     int
	state   State
}

// NewSession creates a session for content. ok is false when the content
// has no field tokens and no session is needed.
func NewSession(content string) (*Session, bool) {
	f := Fields(content)
	if len(f) == 0 {
		return nil, false
	}
	return &Session{
		content: content,
		fields:  f,
		values:  make(map[string]string, len(f)),
	}, true
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Current returns the field awaiting input. ok is false unless the
// session is collecting.
func (s *Session) Current() (Field, bool) {
	if s.state != Collecting {
		return Field{}, false
	}
	return s.fields[s.idx], true
}

// Progress reports how many fields are confirmed out of the total.
func (s *Session) Progress() (done, total int) {
	return s.idx, len(s.fields)
}

// Confirm records the value for the current field and advances. An empty
// value falls back to the field's default when one exists; otherwise the
// empty string is kept. Confirm is a no-op outside Collecting.
func (s *Session) Confirm(value string) {
	if s.state != Collecting {
		return
	}
	f := s.fields[s.idx]
	if value == "" && f.HasDefault {
		value = f.Default
	}
	s.values[f.Name] = value
	s.idx++
	if s.idx == len(s.fields) {
		s.state = Resolved
	}
}

// Cancel aborts the session. The engine discards an aborted session
// without inserting anything.
func (s *Session) Cancel() {
	if s.state == Collecting {
		s.state = Aborted
	}
}

// Result returns the content with every field token replaced by its
// confirmed value. ok is false unless the session is resolved.
func (s *Session) Result() (string, bool) {
	if s.state != Resolved {
		return "", false
	}
	toks := scanTokens(s.content)
	var b strings.Builder
	b.Grow(len(s.content))
	prev := 0
	for _, tok := range toks {
		b.WriteString(s.content[prev:tok.start])
		b.WriteString(s.values[tok.field.Name])
		prev = tok.end
	}
	b.WriteString(s.content[prev:])
	return b.String(), true
}
