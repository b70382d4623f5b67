package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/scenedex/internal/config"
	"github.com/Aman-CERP/scenedex/internal/output"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Set up scenedex in the current directory",
		Long: `Create the project configuration file and data directory.

Writes .scenedex.yaml with default settings and creates the .scenedex data
directory. Safe to re-run; existing configuration is never overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd)
		},
	}
}

func runInit(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	root, err := os.Getwd()
	if err != nil {
		return err
	}

	cfgPath := filepath.Join(root, config.ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		out.Statusf("", "%s already exists, leaving it unchanged", config.ConfigFileName)
	} else {
		if err := config.Default().Save(root); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		out.Successf("wrote %s", config.ConfigFileName)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	dataDir := filepath.Join(root, cfg.Paths.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	out.Successf("data directory ready at %s", cfg.Paths.DataDir)
	out.Newline()
	out.Status("", "next: scenedex sync")
	return nil
}
