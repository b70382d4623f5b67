// Package cmd provides the CLI commands for scenedex.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/logging"
	"github.com/Aman-CERP/scenedex/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the scenedex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenedex",
		Short: "Content-addressed scene index and hybrid search for screenplays",
		Long: `scenedex indexes Fountain screenplay documents scene by scene, keyed by
content hash, and serves hybrid (full-text + semantic) scene search.

Typical flow:

  scenedex init            set up the project data directory
  scenedex sync            index the project's documents
  scenedex search "query"  search indexed scenes
  scenedex watch           keep the index current as documents change
  scenedex serve           expose sync and search over MCP`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("scenedex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.scenedex/logs/")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = teardownLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes slog to the rotating log file; stdout stays clean for
// command output (and for the MCP protocol under serve).
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup

	if debugMode {
		slog.Debug("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	}
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
