package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/output"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked documents and index state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.store.ListDocuments(cmd.Context())
	if err != nil {
		return err
	}

	out.Statusf("", "project root: %s", a.rootPath)
	out.Statusf("", "indexed vectors: %d", a.vectors.Count())
	out.Newline()

	if len(docs) == 0 {
		out.Status("", "no documents synced yet; run 'scenedex sync'")
		return nil
	}

	out.Statusf("", "%d tracked document(s):", len(docs))
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "(untitled)"
		}
		out.Statusf("", "  %s — %s, synced %s",
			d.Path, title, d.SyncedAt.Local().Format(time.RFC822))
	}
	return nil
}
