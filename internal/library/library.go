// Package library assembles the snippet set the engine runs against.
//
// Definitions come from two places: the SQLite store (user-managed, via
// snipctl) and YAML pack files dropped into the packs directory (shareable,
// editor-friendly). The store wins when both define the same command. The
// library watches the packs directory and publishes a fresh merged snapshot
// whenever a pack changes, so edits take effect without restarting the
// daemon.
package library

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"snipd/internal/snippet"
	"snipd/internal/store"
)

// DebounceInterval is how long the packs directory must stay quiet after
// a change before a new snapshot is published. Editors tend to write a
// file several times in quick succession.
const DebounceInterval = 300 * time.Millisecond

// pack is the on-disk shape of a pack file.
type pack struct {
	Name     string            `yaml:"name"`
	Snippets []snippet.Snippet `yaml:"snippets"`
}

// Library merges the store and the pack files into engine snapshots.
type Library struct {
	store    *store.Store
	packsDir string
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	updates   chan []snippet.Snippet

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a library over the given store and packs directory.
func New(st *store.Store, packsDir string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		store:    st,
		packsDir: packsDir,
		logger:   logger.With("component", "library"),
		updates:  make(chan []snippet.Snippet, 1),
		done:     make(chan struct{}),
	}
}

// Snapshot loads the store and all pack files and returns the merged
// snippet set, ordered by command. A broken pack file is skipped with a
// warning rather than taking the whole library down.
func (l *Library) Snapshot() ([]snippet.Snippet, error) {
	merged := make(map[string]snippet.Snippet)

	for _, path := range l.packFiles() {
		snips, err := loadPack(path)
		if err != nil {
			l.logger.Warn("skipping unreadable pack", "path", path, "error", err)
			continue
		}
		for _, snip := range snips {
			if _, ok := merged[snip.Command]; ok {
				// First pack (alphabetical) wins between packs.
				l.logger.Warn("pack redefines command", "command", snip.Command, "path", path)
				continue
			}
			merged[snip.Command] = snip
		}
	}

	stored, err := l.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	for _, snip := range stored {
		// Store definitions shadow pack definitions.
		merged[snip.Command] = snip
	}

	out := make([]snippet.Snippet, 0, len(merged))
	for _, snip := range merged {
		out = append(out, snip)
	}
	slices.SortFunc(out, func(a, b snippet.Snippet) int {
		return strings.Compare(a.Command, b.Command)
	})
	return out, nil
}

func (l *Library) packFiles() []string {
	entries, err := os.ReadDir(l.packsDir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isPackFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(l.packsDir, entry.Name()))
	}
	slices.Sort(paths)
	return paths
}

func isPackFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// loadPack parses one pack file. A single invalid snippet rejects the
// whole pack so a typo never silently drops one entry from a shared set.
func loadPack(path string) ([]snippet.Snippet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pack: %w", err)
	}
	var p pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pack: %w", err)
	}

	out := make([]snippet.Snippet, 0, len(p.Snippets))
	for i := range p.Snippets {
		snip := p.Snippets[i]
		snip.ID = ""
		snip.Sensitive = false // sealed content lives in the store only
		if err := snip.Validate(); err != nil {
			return nil, fmt.Errorf("snippet %d: %w", i, err)
		}
		out = append(out, snip)
	}
	return out, nil
}

// Updates returns the channel of merged snapshots published after pack
// changes. It never carries the initial snapshot; call Snapshot for that.
func (l *Library) Updates() <-chan []snippet.Snippet {
	return l.updates
}

// Start begins watching the packs directory. The directory is created
// if missing so packs can be dropped in later.
func (l *Library) Start() error {
	if err := os.MkdirAll(l.packsDir, 0700); err != nil {
		return fmt.Errorf("create packs directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(l.packsDir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watch packs directory: %w", err)
	}
	l.fsWatcher = fsWatcher

	l.wg.Add(1)
	go l.watchLoop()
	return nil
}

// Stop shuts down the watcher. The updates channel is closed.
func (l *Library) Stop() error {
	if l.fsWatcher == nil {
		return nil
	}
	close(l.done)
	err := l.fsWatcher.Close()
	l.wg.Wait()
	close(l.updates)
	return err
}

func (l *Library) watchLoop() {
	defer l.wg.Done()

	// The timer is armed on the first relevant event and re-armed on
	// every follow-up, so a burst of writes produces one snapshot.
	debounce := time.NewTimer(DebounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-l.done:
			return

		case event, ok := <-l.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isPackFile(filepath.Base(event.Name)) {
				continue
			}
			debounce.Reset(DebounceInterval)

		case err, ok := <-l.fsWatcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("packs watcher error", "error", err)

		case <-debounce.C:
			l.publish()
		}
	}
}

func (l *Library) publish() {
	snaps, err := l.Snapshot()
	if err != nil {
		l.logger.Error("snapshot after pack change failed", "error", err)
		return
	}
	// Only the latest snapshot matters; drop a stale pending one.
	select {
	case <-l.updates:
	default:
	}
	select {
	case l.updates <- snaps:
	case <-l.done:
	}
	l.logger.Info("library reloaded", "snippets", len(snaps))
}
