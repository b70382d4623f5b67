package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/output"
	"github.com/Aman-CERP/scenedex/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var writeMetadata bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch documents and sync changes incrementally",
		Long: `Watch the project for document changes and sync them as they settle.

Rapid editor writes are debounced into a single sync. The data directory is
never watched, so index writes and metadata write-back cannot re-trigger
themselves.

Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, writeMetadata)
		},
	}

	cmd.Flags().BoolVar(&writeMetadata, "write-metadata", true,
		"Write extracted scene metadata back into document boneyard blocks")

	return cmd
}

func runWatch(cmd *cobra.Command, writeMetadata bool) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	a, err := openApp(writeMetadata)
	if err != nil {
		return err
	}
	defer a.Close()

	// Bring the index current before watching.
	paths, err := a.discover()
	if err != nil {
		return fmt.Errorf("discover documents: %w", err)
	}
	if len(paths) > 0 {
		report := a.syncer.SyncAll(ctx, paths)
		out.Statusf("", "initial sync: %d/%d documents", report.Synced, report.Documents)
		if err := a.saveVectors(); err != nil {
			out.Warningf("vector index not persisted: %v", err)
		}
	}

	debounce, err := time.ParseDuration(a.cfg.Sync.WatchDebounce)
	if err != nil {
		debounce = 0 // Watcher default applies
	}

	w, err := watcher.NewDocumentWatcher(watcher.Options{
		DebounceWindow: debounce,
		IgnoreDirs:     []string{".git", a.cfg.Paths.DataDir},
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case events, ok := <-w.Events():
				if !ok {
					return
				}
				handleWatchEvents(cmd, a, out, events)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				slog.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	out.Statusf("👀", "watching %s (Ctrl-C to stop)", a.rootPath)
	return w.Start(ctx, a.rootPath)
}

// handleWatchEvents syncs a debounced batch of document changes.
func handleWatchEvents(cmd *cobra.Command, a *app, out *output.Writer, events []watcher.Event) {
	var paths []string
	for _, ev := range events {
		// Deleted documents are synced too: the syncer reports the
		// missing file and the stored sequence is left for a later
		// prune, while renames arrive as create events for the new path.
		if ev.Operation == watcher.OpDelete {
			slog.Info("document removed", slog.String("path", ev.Path))
			continue
		}
		paths = append(paths, ev.Path)
	}
	if len(paths) == 0 {
		return
	}

	report := a.syncer.SyncAll(cmd.Context(), paths)
	for path, changes := range report.Changes {
		if !changes.Empty() {
			out.Statusf("", "%s: +%d -%d scenes", path, len(changes.Added), len(changes.Removed))
		}
	}
	for path, err := range report.Errors {
		out.Errorf("%s: %v", path, err)
	}
	if err := a.saveVectors(); err != nil {
		slog.Warn("vector index not persisted", slog.String("error", err.Error()))
	}
}
