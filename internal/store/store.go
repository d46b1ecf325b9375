// Package store persists snippets, categories, and the usage ledger in
// SQLite.
//
// The engine never talks to the store directly: the daemon calls Load()
// to obtain a read-only snapshot and hands it to the engine as a whole.
// Sensitive snippets are sealed at rest (see secure.go) and decrypted
// only into that in-memory snapshot.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"snipd/internal/snippet"
)

// Schema for the snipd snippet store.
const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    position    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snippets (
    id          TEXT PRIMARY KEY,
    command     TEXT NOT NULL UNIQUE,
    content     TEXT NOT NULL,
    kind        TEXT NOT NULL DEFAULT 'text',
    description TEXT NOT NULL DEFAULT '',
    category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
    sensitive   INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rich_items (
    snippet_id  TEXT NOT NULL REFERENCES snippets(id) ON DELETE CASCADE,
    ordinal     INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    payload     BLOB,
    uri         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (snippet_id, ordinal)
);

CREATE TABLE IF NOT EXISTS usage_events (
    id          TEXT PRIMARY KEY,
    command     TEXT NOT NULL,
    expanded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_command ON usage_events(command, expanded_at);
CREATE INDEX IF NOT EXISTS idx_snippets_category ON snippets(category_id);
`

// ErrNotFound is returned when a snippet or category does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateCommand is returned when a command is already registered.
var ErrDuplicateCommand = errors.New("store: duplicate command")

// Store is the SQLite-backed snippet store.
type Store struct {
	db  *sql.DB
	box *secretBox
}

// Open opens or creates the store at path. keyPath locates the sealing
// key file for sensitive snippets; it is created on first use.
func Open(path, keyPath string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	// The store holds expansion content; owner-only like the key file.
	if err := os.Chmod(path, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	box, err := openSecretBox(keyPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sealing key: %w", err)
	}

	return &Store{db: db, box: box}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Create inserts a new snippet and returns its assigned id.
func (s *Store) Create(snip *snippet.Snippet) (string, error) {
	if err := snip.Validate(); err != nil {
		return "", err
	}

	id := ulid.Make().String()
	now := time.Now()

	content := snip.Content
	if snip.Sensitive {
		sealed, err := s.box.seal(content)
		if err != nil {
			return "", fmt.Errorf("seal content: %w", err)
		}
		content = sealed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var categoryID any
	if snip.Category != "" {
		cid, err := ensureCategory(tx, snip.Category)
		if err != nil {
			return "", err
		}
		categoryID = cid
	}

	kind := snip.Kind
	if kind == "" {
		kind = snippet.KindText
	}
	_, err = tx.Exec(`
		INSERT INTO snippets (id, command, content, kind, description, category_id, sensitive, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, snip.Command, content, string(kind), snip.Description, categoryID,
		boolInt(snip.Sensitive), now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %q", ErrDuplicateCommand, snip.Command)
		}
		return "", fmt.Errorf("insert snippet: %w", err)
	}

	if err := insertRichItems(tx, id, snip.RichItems); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// Update replaces the stored definition of snip.Command.
func (s *Store) Update(snip *snippet.Snippet) error {
	if err := snip.Validate(); err != nil {
		return err
	}

	content := snip.Content
	if snip.Sensitive {
		sealed, err := s.box.seal(content)
		if err != nil {
			return fmt.Errorf("seal content: %w", err)
		}
		content = sealed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var categoryID any
	if snip.Category != "" {
		cid, err := ensureCategory(tx, snip.Category)
		if err != nil {
			return err
		}
		categoryID = cid
	}

	var id string
	err = tx.QueryRow(`SELECT id FROM snippets WHERE command = ?`, snip.Command).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", ErrNotFound, snip.Command)
	}
	if err != nil {
		return fmt.Errorf("look up snippet: %w", err)
	}

	kind := snip.Kind
	if kind == "" {
		kind = snippet.KindText
	}
	_, err = tx.Exec(`
		UPDATE snippets
		SET content = ?, kind = ?, description = ?, category_id = ?, sensitive = ?, updated_at = ?
		WHERE id = ?`,
		content, string(kind), snip.Description, categoryID,
		boolInt(snip.Sensitive), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update snippet: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM rich_items WHERE snippet_id = ?`, id); err != nil {
		return fmt.Errorf("clear rich items: %w", err)
	}
	if err := insertRichItems(tx, id, snip.RichItems); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// commandSet returns the set of registered commands without decrypting
// any content.
func (s *Store) commandSet() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT command FROM snippets`)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var command string
		if err := rows.Scan(&command); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		set[command] = true
	}
	return set, rows.Err()
}

// Delete removes a snippet by command.
func (s *Store) Delete(command string) error {
	res, err := s.db.Exec(`DELETE FROM snippets WHERE command = ?`, command)
	if err != nil {
		return fmt.Errorf("delete snippet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, command)
	}
	return nil
}

// Get retrieves one snippet by command, with sealed content decrypted.
func (s *Store) Get(command string) (*snippet.Snippet, error) {
	row := s.db.QueryRow(`
		SELECT s.id, s.command, s.content, s.kind, s.description,
		       COALESCE(c.name, ''), s.sensitive, s.created_at, s.updated_at
		FROM snippets s
		LEFT JOIN categories c ON c.id = s.category_id
		WHERE s.command = ?`, command)

	snip, err := s.scanSnippet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, command)
		}
		return nil, err
	}
	if err := s.loadRichItems(snip); err != nil {
		return nil, err
	}
	return snip, nil
}

// Load returns the full decrypted snapshot the engine runs against,
// ordered by command.
func (s *Store) Load() ([]snippet.Snippet, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.command, s.content, s.kind, s.description,
		       COALESCE(c.name, ''), s.sensitive, s.created_at, s.updated_at
		FROM snippets s
		LEFT JOIN categories c ON c.id = s.category_id
		ORDER BY s.command`)
	if err != nil {
		return nil, fmt.Errorf("query snippets: %w", err)
	}
	defer rows.Close()

	var out []snippet.Snippet
	for rows.Next() {
		snip, err := s.scanSnippet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snippets: %w", err)
	}

	for i := range out {
		if err := s.loadRichItems(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanner abstracts sql.Row and sql.Rows for scanSnippet.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSnippet(row scanner) (*snippet.Snippet, error) {
	var snip snippet.Snippet
	var kind string
	var sensitive int
	var created, updated int64

	err := row.Scan(&snip.ID, &snip.Command, &snip.Content, &kind,
		&snip.Description, &snip.Category, &sensitive, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snippet: %w", err)
	}

	snip.Kind = snippet.ContentKind(kind)
	snip.Sensitive = sensitive != 0
	snip.CreatedAt = time.Unix(created, 0)
	snip.UpdatedAt = time.Unix(updated, 0)

	if snip.Sensitive {
		plain, err := s.box.open(snip.Content)
		if err != nil {
			return nil, fmt.Errorf("unseal %q: %w", snip.Command, err)
		}
		snip.Content = plain
	}
	return &snip, nil
}

func (s *Store) loadRichItems(snip *snippet.Snippet) error {
	rows, err := s.db.Query(`
		SELECT kind, payload, uri FROM rich_items
		WHERE snippet_id = ? ORDER BY ordinal`, snip.ID)
	if err != nil {
		return fmt.Errorf("query rich items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item snippet.RichItem
		var kind string
		if err := rows.Scan(&kind, &item.Data, &item.URI); err != nil {
			return fmt.Errorf("scan rich item: %w", err)
		}
		item.Kind = snippet.ItemKind(kind)
		snip.RichItems = append(snip.RichItems, item)
	}
	return rows.Err()
}

// Categories returns all categories ordered by position then name.
func (s *Store) Categories() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM categories ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RecordExpansion appends one row to the usage ledger.
func (s *Store) RecordExpansion(command string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO usage_events (id, command, expanded_at)
		VALUES (?, ?, ?)`,
		ulid.Make().String(), command, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record expansion: %w", err)
	}
	return nil
}

// UsageStat is one command's aggregated usage.
type UsageStat struct {
	Command  string    `json:"command"`
	Count    int64     `json:"count"`
	LastUsed time.Time `json:"last_used"`
}

// UsageStats aggregates the ledger since the given time, most used first.
func (s *Store) UsageStats(since time.Time) ([]UsageStat, error) {
	rows, err := s.db.Query(`
		SELECT command, COUNT(*), MAX(expanded_at)
		FROM usage_events
		WHERE expanded_at >= ?
		GROUP BY command
		ORDER BY COUNT(*) DESC, command`, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage stats: %w", err)
	}
	defer rows.Close()

	var out []UsageStat
	for rows.Next() {
		var st UsageStat
		var last int64
		if err := rows.Scan(&st.Command, &st.Count, &last); err != nil {
			return nil, fmt.Errorf("scan usage stat: %w", err)
		}
		st.LastUsed = time.Unix(last, 0)
		out = append(out, st)
	}
	return out, rows.Err()
}

// ensureCategory returns the id of the named category, creating it if
// missing.
func ensureCategory(tx *sql.Tx, name string) (string, error) {
	var id string
	err := tx.QueryRow(`SELECT id FROM categories WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("look up category: %w", err)
	}

	id = ulid.Make().String()
	if _, err := tx.Exec(`INSERT INTO categories (id, name) VALUES (?, ?)`, id, name); err != nil {
		return "", fmt.Errorf("insert category: %w", err)
	}
	return id, nil
}

func insertRichItems(tx *sql.Tx, snippetID string, items []snippet.RichItem) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO rich_items (snippet_id, ordinal, kind, payload, uri)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		if _, err := stmt.Exec(snippetID, i, string(item.Kind), item.Data, item.URI); err != nil {
			return fmt.Errorf("insert rich item: %w", err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
