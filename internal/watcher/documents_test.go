package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *DocumentWatcher {
	t.Helper()

	w, err := NewDocumentWatcher(Options{
		DebounceWindow: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = w.Stop() })

	go func() { _ = w.Start(ctx, root) }()

	// Give the watch set a moment to establish before mutating the tree.
	time.Sleep(100 * time.Millisecond)
	return w
}

func waitForEvents(t *testing.T, w *DocumentWatcher, timeout time.Duration) []Event {
	t.Helper()
	select {
	case events := <-w.Events():
		return events
	case <-time.After(timeout):
		t.Fatal("timeout waiting for watcher events")
		return nil
	}
}

func TestDocumentWatcher_DetectsCreate(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "pilot.fountain")
	require.NoError(t, os.WriteFile(path, []byte("INT. OFFICE - DAY\n\nWork.\n"), 0o644))

	events := waitForEvents(t, w, 3*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, "pilot.fountain", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDocumentWatcher_IgnoresOtherExtensions(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pilot.fountain"), []byte("INT. A - DAY\n"), 0o644))

	events := waitForEvents(t, w, 3*time.Second)
	for _, ev := range events {
		assert.Equal(t, "pilot.fountain", ev.Path)
	}
}

func TestDocumentWatcher_IgnoresDataDir(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, ".scenedex")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	w := startWatcher(t, root)

	// Index writes inside the data directory must never loop back as
	// document events.
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "fake.fountain"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.fountain"), []byte("INT. A - DAY\n"), 0o644))

	events := waitForEvents(t, w, 3*time.Second)
	for _, ev := range events {
		assert.Equal(t, "real.fountain", ev.Path)
	}
}

func TestDocumentWatcher_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	subdir := filepath.Join(root, "season1")
	require.NoError(t, os.MkdirAll(subdir, 0o755))
	// Let the new directory join the watch set.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(subdir, "ep1.fountain"), []byte("INT. A - DAY\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case events := <-w.Events():
			for _, ev := range events {
				if ev.Path == filepath.Join("season1", "ep1.fountain") {
					return
				}
			}
		case <-deadline:
			t.Fatal("timeout waiting for subdirectory document event")
		}
	}
}

func TestDocumentWatcher_StopClosesChannels(t *testing.T) {
	root := t.TempDir()
	w, err := NewDocumentWatcher(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx, root) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
}
