package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinssen/bmtk/internal/config"
	"github.com/clinssen/bmtk/internal/logging"
)

// Set via ldflags at build time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pointnet",
		Short: "Point-neuron network builder",
		Long: `pointnet instantiates point-neuron networks described by node and edge
populations in a simulation engine.

It builds internal nodes, wires recurrent edges, attaches spike generators
for virtual inputs, and records the node-id to engine-handle mapping of every
build so it can be queried later.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the run configuration (YAML)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newBuildCmd(),
		newRunsCmd(),
		newResolveCmd(),
		newGraphCmd(),
		newServeCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger returns the operational logger writing to w.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, w)
}
