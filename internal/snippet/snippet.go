// Package snippet defines the snippet model shared by the store, the
// library, and the expansion engine.
//
// A snippet binds a short typed command (the trigger) to the content that
// replaces it. Content is either literal text (plain or markdown) or an
// ordered list of rich items (images, files, URLs) that can only be
// delivered through the clipboard. Snippets are immutable once loaded;
// the engine works against read-only snapshots and never mutates them.
package snippet

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ContentKind identifies how a snippet's content is delivered.
type ContentKind string

const (
	// KindText is literal text injected as synthetic keystrokes.
	KindText ContentKind = "text"

	// KindMarkdown is markdown rendered to HTML and pasted as rich text.
	KindMarkdown ContentKind = "markdown"

	// KindImage is one or more image payloads pasted via the clipboard.
	KindImage ContentKind = "image"

	// KindFile is one or more file references pasted via the clipboard.
	KindFile ContentKind = "file"

	// KindURL is one or more URLs pasted via the clipboard.
	KindURL ContentKind = "url"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case KindText, KindMarkdown, KindImage, KindFile, KindURL:
		return true
	}
	return false
}

// ItemKind identifies the payload type of a rich item.
type ItemKind string

const (
	// ItemImage carries raw image bytes (PNG encoded).
	ItemImage ItemKind = "image"

	// ItemFile carries a file path or file:// URI.
	ItemFile ItemKind = "file"

	// ItemURL carries a URL string.
	ItemURL ItemKind = "url"
)

// RichItem is a single non-text payload attached to a snippet.
// Images carry Data; files and URLs carry URI.
type RichItem struct {
	Kind ItemKind `json:"kind" yaml:"kind"`
	Data []byte   `json:"data,omitempty" yaml:"data,omitempty"`
	URI  string   `json:"uri,omitempty" yaml:"uri,omitempty"`
}

// Snippet is an immutable-once-loaded trigger definition.
type Snippet struct {
	// ID is the store-assigned identifier (ULID). Empty for snippets
	// sourced from pack files.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Command is the unique trigger string, e.g. "/sig".
	Command string `json:"command" yaml:"command"`

	// Content is the replacement text for text and markdown kinds.
	// For rich kinds it is the plain-text representation written back
	// to the clipboard after insertion.
	Content string `json:"content" yaml:"content"`

	// Kind selects the delivery path.
	Kind ContentKind `json:"kind" yaml:"kind"`

	// RichItems is the ordered payload list for image/file/url kinds.
	RichItems []RichItem `json:"rich_items,omitempty" yaml:"rich_items,omitempty"`

	// Description is display-only.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Category is the display grouping, if any.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// Sensitive marks content the store seals at rest.
	Sensitive bool `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`

	// CreatedAt and UpdatedAt are maintained by the store.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

var (
	// ErrEmptyCommand is returned for snippets with no trigger.
	ErrEmptyCommand = errors.New("snippet: command is empty")

	// ErrCommandWhitespace is returned when a command contains whitespace.
	ErrCommandWhitespace = errors.New("snippet: command contains whitespace")

	// ErrNoContent is returned when a snippet has neither text content
	// nor rich items.
	ErrNoContent = errors.New("snippet: no content")
)

// Validate checks the structural invariants of a snippet definition.
func (s *Snippet) Validate() error {
	if s.Command == "" {
		return ErrEmptyCommand
	}
	for _, r := range s.Command {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q", ErrCommandWhitespace, s.Command)
		}
	}
	kind := s.Kind
	if kind == "" {
		kind = KindText
	}
	if !kind.Valid() {
		return fmt.Errorf("snippet %q: unknown content kind %q", s.Command, s.Kind)
	}
	switch kind {
	case KindText, KindMarkdown:
		if s.Content == "" {
			return fmt.Errorf("%w: %q", ErrNoContent, s.Command)
		}
	default:
		if len(s.RichItems) == 0 {
			return fmt.Errorf("%w: %q has kind %q but no rich items", ErrNoContent, s.Command, kind)
		}
		for i, item := range s.RichItems {
			if err := item.validate(); err != nil {
				return fmt.Errorf("snippet %q: item %d: %w", s.Command, i, err)
			}
		}
	}
	return nil
}

func (it RichItem) validate() error {
	switch it.Kind {
	case ItemImage:
		if len(it.Data) == 0 {
			return errors.New("image item has no data")
		}
	case ItemFile, ItemURL:
		if it.URI == "" {
			return fmt.Errorf("%s item has no uri", it.Kind)
		}
	default:
		return fmt.Errorf("unknown item kind %q", it.Kind)
	}
	return nil
}

// IsRich reports whether the snippet is delivered through the clipboard
// rather than typed as synthetic input.
func (s *Snippet) IsRich() bool {
	switch s.Kind {
	case KindImage, KindFile, KindURL, KindMarkdown:
		return true
	}
	return false
}

// PlainText returns the textual representation left on the clipboard
// after an expansion: the content itself for text kinds, the joined URIs
// for rich kinds without content.
func (s *Snippet) PlainText() string {
	if s.Content != "" {
		return s.Content
	}
	uris := make([]string, 0, len(s.RichItems))
	for _, item := range s.RichItems {
		if item.URI != "" {
			uris = append(uris, item.URI)
		}
	}
	return strings.Join(uris, "\n")
}
