package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocumentWatcher watches a project tree with fsnotify and emits debounced
// batches of screenplay document events. Directory events are tracked only to
// keep the recursive watch set current; consumers see documents only.
type DocumentWatcher struct {
	fsWatcher      *fsnotify.Watcher
	debouncer      *Debouncer
	events         chan []Event
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewDocumentWatcher creates a watcher with the given options.
func NewDocumentWatcher(opts Options) (*DocumentWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &DocumentWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []Event, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start begins watching the given directory recursively. It blocks until the
// context is cancelled or Stop is called.
func (w *DocumentWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	go w.forwardDebouncedEvents(ctx)

	slog.Info("watching for document changes",
		slog.String("root", absPath),
		slog.Duration("debounce", w.opts.DebounceWindow))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleFsnotifyEvent converts and filters a raw fsnotify event.
func (w *DocumentWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}

	if w.shouldIgnore(relPath) {
		return
	}

	if isDir {
		// New directories join the watch set; everything else about
		// directories is noise.
		if event.Op&fsnotify.Create != 0 {
			_ = w.fsWatcher.Add(event.Name)
		}
		return
	}

	if !w.isDocument(relPath) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and friends
		return
	}

	w.debouncer.Add(Event{
		Path:      relPath,
		Operation: op,
		Timestamp: time.Now(),
	})
}

func (w *DocumentWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			w.emitEvents(events)
		}
	}
}

// addRecursive adds root and all non-ignored subdirectories to the watch set.
func (w *DocumentWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip directories we cannot access
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(root, path)
		if relPath == "." {
			return w.fsWatcher.Add(path)
		}
		if w.shouldIgnore(relPath) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// shouldIgnore reports whether a relative path is inside an ignored directory.
func (w *DocumentWatcher) shouldIgnore(relPath string) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if slices.Contains(w.opts.IgnoreDirs, part) {
			return true
		}
	}
	return false
}

// isDocument reports whether the path carries a watched extension.
func (w *DocumentWatcher) isDocument(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	return slices.Contains(w.opts.Extensions, ext)
}

// emitEvents sends a batch to the output channel, dropping on overflow so a
// stalled consumer never wedges the watch loop.
func (w *DocumentWatcher) emitEvents(events []Event) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

// DroppedBatches returns the number of batches dropped due to buffer overflow.
func (w *DocumentWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

func (w *DocumentWatcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *DocumentWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	_ = w.fsWatcher.Close()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches.
// The channel is closed when the watcher stops.
func (w *DocumentWatcher) Events() <-chan []Event {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
// The channel is closed when the watcher stops.
func (w *DocumentWatcher) Errors() <-chan error {
	return w.errors
}

// RootPath returns the root path being watched.
func (w *DocumentWatcher) RootPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rootPath
}
