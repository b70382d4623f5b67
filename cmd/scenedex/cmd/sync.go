package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/output"
)

func newSyncCmd() *cobra.Command {
	var writeMetadata bool

	cmd := &cobra.Command{
		Use:   "sync [documents...]",
		Short: "Synchronize documents into the scene index",
		Long: `Synchronize screenplay documents into the scene index.

Only changed scenes are re-indexed: unchanged scenes keep their embeddings
and metadata, and re-syncing an unchanged document performs no writes.

With no arguments, all documents matching the configured include patterns
are synced.

Examples:
  scenedex sync
  scenedex sync pilot.fountain season1/ep2.fountain
  scenedex sync --write-metadata=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, writeMetadata)
		},
	}

	cmd.Flags().BoolVar(&writeMetadata, "write-metadata", true,
		"Write extracted scene metadata back into document boneyard blocks")

	return cmd
}

func runSync(cmd *cobra.Command, args []string, writeMetadata bool) error {
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(writeMetadata)
	if err != nil {
		return err
	}
	defer a.Close()

	paths := args
	if len(paths) == 0 {
		paths, err = a.discover()
		if err != nil {
			return fmt.Errorf("discover documents: %w", err)
		}
	}
	if len(paths) == 0 {
		out.Warning("no documents found; check the include patterns in .scenedex.yaml")
		return nil
	}

	report := a.syncer.SyncAll(cmd.Context(), paths)

	if err := a.saveVectors(); err != nil {
		out.Warningf("vector index not persisted: %v", err)
	}

	out.Successf("synced %d/%d documents (+%d scenes, -%d scenes)",
		report.Synced, report.Documents, report.Added, report.Removed)

	if report.Failed > 0 {
		failed := make([]string, 0, len(report.Errors))
		for path := range report.Errors {
			failed = append(failed, path)
		}
		sort.Strings(failed)
		for _, path := range failed {
			out.Errorf("%s: %v", path, report.Errors[path])
		}
		return fmt.Errorf("%d document(s) failed to sync", report.Failed)
	}
	return nil
}
