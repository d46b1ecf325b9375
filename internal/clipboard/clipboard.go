// Package clipboard wraps the system clipboard behind a narrow port.
//
// The clipboard is ambient mutable global state shared with every other
// application, so the engine treats it carefully: it reads text once per
// expansion for {clipboard}-style placeholders, and after an expansion it
// leaves the plain textual representation of the expanded snippet on the
// clipboard so a manual paste retry is always possible. Tests substitute
// the in-memory implementation instead of touching the real clipboard.
package clipboard

import "errors"

// ItemKind identifies the payload type of a clipboard item.
type ItemKind string

const (
	// ItemImage carries raw PNG image bytes.
	ItemImage ItemKind = "image"

	// ItemFile carries a file path or file:// URI.
	ItemFile ItemKind = "file"

	// ItemURL carries a URL string.
	ItemURL ItemKind = "url"
)

// Item is one typed payload written to the clipboard.
type Item struct {
	Kind ItemKind
	Data []byte // images
	URI  string // files and URLs
}

// Payload is the content of one clipboard write. Text is always set;
// HTML and Items enrich it with native representations when present.
type Payload struct {
	// Text is the plain-text representation.
	Text string

	// HTML is an optional rich-text representation pasted by applications
	// that accept text/html.
	HTML string

	// Items are optional typed payloads (images, file references, URLs)
	// in their native clipboard representations.
	Items []Item
}

// ErrNotAvailable is returned when no clipboard tool or API is usable on
// this platform.
var ErrNotAvailable = errors.New("clipboard: not available on this platform")

// ErrNoText is returned by ReadText when the clipboard holds no textual
// content. Placeholder resolution maps it to the empty string.
var ErrNoText = errors.New("clipboard: no text content")

// Port is the clipboard boundary the engine depends on.
type Port interface {
	// ReadText returns the current plain-text clipboard content.
	// Returns ErrNoText when the clipboard holds no text.
	ReadText() (string, error)

	// WriteText replaces the clipboard with plain text.
	WriteText(text string) error

	// Write replaces the clipboard with a full payload, exposing every
	// representation it carries.
	Write(p Payload) error
}

// New returns the clipboard port for the current platform.
func New() Port {
	return newPlatformPort()
}

// Memory is an in-process Port for tests. It records every write so
// tests can assert on clipboard traffic.
type Memory struct {
	payload Payload
	hasText bool
	writes  []Payload

	// ReadErr, when set, is returned by ReadText.
	ReadErr error

	// WriteErr, when set, is returned by WriteText and Write.
	WriteErr error
}

// NewMemory creates an empty in-memory clipboard.
func NewMemory() *Memory {
	return &Memory{}
}

// ReadText returns the stored text.
func (m *Memory) ReadText() (string, error) {
	if m.ReadErr != nil {
		return "", m.ReadErr
	}
	if !m.hasText {
		return "", ErrNoText
	}
	return m.payload.Text, nil
}

// WriteText stores plain text.
func (m *Memory) WriteText(text string) error {
	return m.Write(Payload{Text: text})
}

// Write stores a payload.
func (m *Memory) Write(p Payload) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.payload = p
	m.hasText = true
	m.writes = append(m.writes, p)
	return nil
}

// SetText seeds the clipboard without recording a write.
func (m *Memory) SetText(text string) {
	m.payload = Payload{Text: text}
	m.hasText = true
}

// Clear empties the clipboard without recording a write.
func (m *Memory) Clear() {
	m.payload = Payload{}
	m.hasText = false
	m.writes = nil
}

// Current returns the payload the clipboard currently holds.
func (m *Memory) Current() Payload { return m.payload }

// Writes returns every payload written since creation or Clear.
func (m *Memory) Writes() []Payload { return m.writes }
