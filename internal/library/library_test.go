package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipd/internal/snippet"
	"snipd/internal/store"
)

func createTestLibrary(t *testing.T) (*Library, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "snippets.db"), filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	packsDir := filepath.Join(dir, "packs")
	require.NoError(t, os.MkdirAll(packsDir, 0700))
	return New(st, packsDir, nil), st, packsDir
}

func writePack(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func TestSnapshotMergesStoreAndPacks(t *testing.T) {
	lib, st, packsDir := createTestLibrary(t)

	_, err := st.Create(&snippet.Snippet{Command: "/sig", Content: "store wins"})
	require.NoError(t, err)

	writePack(t, packsDir, "team.yml", `name: team
snippets:
  - command: /sig
    content: pack version
  - command: /standup
    content: "Daily standup notes:"
`)

	snaps, err := lib.Snapshot()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "/sig", snaps[0].Command)
	assert.Equal(t, "store wins", snaps[0].Content)
	assert.Equal(t, "/standup", snaps[1].Command)
	assert.Equal(t, "Daily standup notes:", snaps[1].Content)
}

func TestSnapshotSkipsBrokenPack(t *testing.T) {
	lib, _, packsDir := createTestLibrary(t)

	writePack(t, packsDir, "bad.yml", "snippets: [not: {valid")
	writePack(t, packsDir, "good.yml", `snippets:
  - command: /ok
    content: fine
`)

	snaps, err := lib.Snapshot()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "/ok", snaps[0].Command)
}

func TestInvalidSnippetRejectsWholePack(t *testing.T) {
	lib, _, packsDir := createTestLibrary(t)

	// Second entry has whitespace in its command.
	writePack(t, packsDir, "mixed.yml", `snippets:
  - command: /ok
    content: fine
  - command: "/bad cmd"
    content: nope
`)

	snaps, err := lib.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestFirstPackWinsBetweenPacks(t *testing.T) {
	lib, _, packsDir := createTestLibrary(t)

	writePack(t, packsDir, "a.yml", "snippets:\n  - command: /dup\n    content: from a\n")
	writePack(t, packsDir, "b.yml", "snippets:\n  - command: /dup\n    content: from b\n")

	snaps, err := lib.Snapshot()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "from a", snaps[0].Content)
}

func TestPackSensitiveFlagStripped(t *testing.T) {
	lib, _, packsDir := createTestLibrary(t)

	writePack(t, packsDir, "p.yml", `snippets:
  - command: /x
    content: plain
    sensitive: true
`)

	snaps, err := lib.Snapshot()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Sensitive)
}

func TestWatchPublishesAfterPackChange(t *testing.T) {
	lib, _, packsDir := createTestLibrary(t)

	require.NoError(t, lib.Start())
	defer lib.Stop()

	writePack(t, packsDir, "new.yml", "snippets:\n  - command: /fresh\n    content: hello\n")

	select {
	case snaps := <-lib.Updates():
		require.Len(t, snaps, 1)
		assert.Equal(t, "/fresh", snaps[0].Command)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot published after pack change")
	}
}

func TestStopClosesUpdates(t *testing.T) {
	lib, _, _ := createTestLibrary(t)

	require.NoError(t, lib.Start())
	require.NoError(t, lib.Stop())

	_, ok := <-lib.Updates()
	assert.False(t, ok)
}

func TestIsPackFile(t *testing.T) {
	assert.True(t, isPackFile("team.yml"))
	assert.True(t, isPackFile("team.yaml"))
	assert.False(t, isPackFile("notes.txt"))
	assert.False(t, isPackFile("team.yml.bak"))
}

func TestStartCreatesPacksDir(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "snippets.db"), filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	defer st.Close()

	packsDir := filepath.Join(dir, "not-yet", "packs")
	lib := New(st, packsDir, nil)
	require.NoError(t, lib.Start())
	defer lib.Stop()

	info, err := os.Stat(packsDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
