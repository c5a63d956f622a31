package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/framefind/framefind/internal/config"
	"github.com/framefind/framefind/internal/output"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a FrameFind project",
		Long: `Write a default .framefind.yaml in the current directory and create
the local data directory. Edit the file afterwards to point at your
embedding services or a qdrant cluster.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force, dataDir)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory for local indexes (default ~/.framefind)")

	return cmd
}

func runInit(cmd *cobra.Command, force bool, dataDir string) error {
	out := output.New(cmd.OutOrStdout())

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfgPath := filepath.Join(cwd, ".framefind.yaml")
	if fileExists(cfgPath) && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", cfgPath)
	}

	cfg := config.NewConfig()
	if dataDir != "" {
		abs, err := filepath.Abs(dataDir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.Stores.DataDir = abs
	}

	if err := cfg.WriteYAML(cfgPath); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Stores.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	out.Successf("Wrote %s", cfgPath)
	out.Statusf("", "Data directory: %s", cfg.Stores.DataDir)
	out.Newline()
	out.Status("", "Next steps:")
	out.Status("", "  1. Point embeddings.text_endpoint at your embedding service")
	out.Status("", "  2. framefind ingest scenes.json")
	out.Status("", "  3. framefind search \"your query\" --tenant <tenant>")
	return nil
}
