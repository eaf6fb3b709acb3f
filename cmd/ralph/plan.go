package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/manifest"
	"github.com/fyrsmithlabs/ralph/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan [prd-file]",
	Short: "Decompose a PRD document into a task manifest",
	Long: `Decompose a PRD document into a task manifest via the Anthropic API
and write it to the configured manifest path.

Examples:
  # Plan from a file
  ralph plan docs/checkout-prd.md

  # Plan from stdin
  cat prd.md | ralph plan -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	var text []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading PRD from stdin: %w", err)
		}
	} else {
		text, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading PRD file: %w", err)
		}
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Refuse to overwrite a manifest with unfinished work.
	if existing, err := manifest.Load(cfg.Manifest.Path); err == nil && existing.Done() < existing.Total() {
		return fmt.Errorf("manifest %s has %d pending stories; finish or remove it before planning again",
			cfg.Manifest.Path, existing.Total()-existing.Done())
	}

	p, err := planner.New(cfg.Planner, logger)
	if err != nil {
		return err
	}

	m, err := p.Plan(cmd.Context(), string(text))
	if err != nil {
		return err
	}

	if err := manifest.Save(cfg.Manifest.Path, m); err != nil {
		return err
	}

	fmt.Printf("wrote %s: %q with %d stories on branch %s\n",
		cfg.Manifest.Path, m.Name, len(m.Stories), m.Branch)
	return nil
}
