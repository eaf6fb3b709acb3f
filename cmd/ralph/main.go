// Package main implements the ralph CLI: an autonomous orchestrator that
// drives an external coding agent through the stories of a task manifest.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/logging"
)

var (
	// configFile overrides the default config search path
	configFile string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Drive a coding agent through a task manifest",
	Long: `ralph reads a prd.json manifest of stories, invokes the configured
coding agent once per story (or once per batch in team mode), records
completions, and pushes the accumulated work to a run branch.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default .ralph/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig loads configuration and builds the logger from it. Both are
// needed by every subcommand, so failures here abort before any work.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Fields: map[string]string{"service": "ralph"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	return cfg, logger, nil
}
