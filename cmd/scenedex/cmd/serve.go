package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve sync and search over MCP (stdio)",
		Long: `Run the MCP server over stdio.

Exposes sync_documents, search_scenes, and index_status as tools for AI
clients. Stdout carries the protocol stream exclusively; all logging goes
to the log file.

Register with an MCP client by pointing it at:
  scenedex serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := mcp.NewServer(a.syncer, a.engine, a.store, a.cfg, a.rootPath)
	if err != nil {
		return err
	}

	err = server.Serve(cmd.Context())

	// Persist anything the sync tool added during the session.
	if saveErr := a.saveVectors(); saveErr != nil && err == nil {
		err = saveErr
	}
	return err
}
