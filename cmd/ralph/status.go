package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/manifest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show manifest progress",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	bold.Printf("%s", m.Name)
	fmt.Printf("  %d/%d done  branch %s\n", m.Done(), m.Total(), m.Branch)
	if m.Summary != "" {
		fmt.Printf("%s\n", m.Summary)
	}
	fmt.Println()

	for _, s := range m.Stories {
		if s.Completed {
			green.Printf("  [x] %s  %s\n", s.ID, s.Title)
		} else {
			fmt.Printf("  [ ] %s  %s\n", s.ID, s.Title)
		}
	}
	return nil
}
