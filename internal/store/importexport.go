package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"snipd/internal/snippet"
)

// librarySchema validates imported JSON before anything touches the
// database, so a malformed file is rejected whole with a path-qualified
// error and nothing is written.
const librarySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["snippets"],
  "properties": {
    "snippets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["command"],
        "properties": {
          "command": {"type": "string", "minLength": 1},
          "content": {"type": "string"},
          "kind": {"enum": ["text", "markdown", "image", "file", "url"]},
          "description": {"type": "string"},
          "category": {"type": "string"},
          "sensitive": {"type": "boolean"},
          "rich_items": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["kind"],
              "properties": {
                "kind": {"enum": ["image", "file", "url"]},
                "data": {"type": "string"},
                "uri": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledLibrarySchema = jsonschema.MustCompileString("library.schema.json", librarySchema)

// ConflictMode selects what an import does with a command that already
// exists in the store.
type ConflictMode string

const (
	// ConflictSkip keeps the stored definition.
	ConflictSkip ConflictMode = "skip"

	// ConflictReplace overwrites the stored definition.
	ConflictReplace ConflictMode = "replace"

	// ConflictError aborts the import on the first collision.
	ConflictError ConflictMode = "error"
)

// Valid reports whether m is a known conflict mode.
func (m ConflictMode) Valid() bool {
	switch m {
	case ConflictSkip, ConflictReplace, ConflictError:
		return true
	}
	return false
}

// library is the import/export document shape.
type library struct {
	Snippets []snippet.Snippet `json:"snippets" yaml:"snippets"`
}

// ImportResult summarizes one import.
type ImportResult struct {
	Imported int `json:"imported"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
}

// ImportJSON validates and imports a JSON library document.
func (s *Store) ImportJSON(data []byte, mode ConflictMode) (ImportResult, error) {
	var res ImportResult
	if !mode.Valid() {
		return res, fmt.Errorf("store: unknown conflict mode %q", mode)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return res, fmt.Errorf("parse library: %w", err)
	}
	if err := compiledLibrarySchema.Validate(doc); err != nil {
		return res, fmt.Errorf("validate library: %w", err)
	}

	var lib library
	if err := json.Unmarshal(data, &lib); err != nil {
		return res, fmt.Errorf("decode library: %w", err)
	}

	// Validate everything and resolve conflicts before writing anything,
	// so an aborted import leaves the store untouched.
	existing, err := s.commandSet()
	if err != nil {
		return ImportResult{}, err
	}
	seen := make(map[string]bool, len(lib.Snippets))
	for i := range lib.Snippets {
		snip := &lib.Snippets[i]
		snip.ID = "" // store assigns ids
		if err := snip.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("snippet %d: %w", i, err)
		}
		if mode == ConflictError && (existing[snip.Command] || seen[snip.Command]) {
			return ImportResult{}, fmt.Errorf("import: %w: %q", ErrDuplicateCommand, snip.Command)
		}
		seen[snip.Command] = true
	}

	for i := range lib.Snippets {
		snip := &lib.Snippets[i]
		_, err := s.Create(snip)
		if err == nil {
			res.Imported++
			continue
		}
		if !errors.Is(err, ErrDuplicateCommand) {
			return ImportResult{}, fmt.Errorf("import %q: %w", snip.Command, err)
		}
		switch mode {
		case ConflictSkip:
			res.Skipped++
		case ConflictReplace:
			if err := s.Update(snip); err != nil {
				return ImportResult{}, fmt.Errorf("replace %q: %w", snip.Command, err)
			}
			res.Replaced++
		case ConflictError:
			return ImportResult{}, fmt.Errorf("import: %w: %q", ErrDuplicateCommand, snip.Command)
		}
	}
	return res, nil
}

// exportSnippet is the deterministic projection written by exports:
// store-assigned ids and timestamps stay home.
type exportSnippet struct {
	Command     string             `json:"command" yaml:"command"`
	Content     string             `json:"content,omitempty" yaml:"content,omitempty"`
	Kind        string             `json:"kind" yaml:"kind"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string             `json:"category,omitempty" yaml:"category,omitempty"`
	RichItems   []snippet.RichItem `json:"rich_items,omitempty" yaml:"rich_items,omitempty"`
}

func (s *Store) exportDoc() (map[string][]exportSnippet, error) {
	snips, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]exportSnippet, 0, len(snips))
	for _, snip := range snips {
		kind := snip.Kind
		if kind == "" {
			kind = snippet.KindText
		}
		out = append(out, exportSnippet{
			Command:     snip.Command,
			Content:     snip.Content,
			Kind:        string(kind),
			Description: snip.Description,
			Category:    snip.Category,
			RichItems:   snip.RichItems,
		})
	}
	return map[string][]exportSnippet{"snippets": out}, nil
}

// ExportYAML writes the whole library as YAML. Sensitive snippets are
// exported decrypted; an export is an explicit user action and the
// file is theirs to protect.
func (s *Store) ExportYAML(w io.Writer) error {
	doc, err := s.exportDoc()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode library: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the whole library as indented JSON.
func (s *Store) ExportJSON(w io.Writer) error {
	doc, err := s.exportDoc()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode library: %w", err)
	}
	return nil
}
