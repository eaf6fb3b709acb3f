package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/agent"
	"github.com/fyrsmithlabs/ralph/internal/notify"
	"github.com/fyrsmithlabs/ralph/internal/run"
	"github.com/fyrsmithlabs/ralph/internal/vcs"
)

var teamMode bool

var runCmd = &cobra.Command{
	Use:   "run [limit]",
	Short: "Process pending stories from the manifest",
	Long: `Process pending stories from the manifest, one agent invocation per
story. An optional limit caps how many stories this run attempts.

Examples:
  # Work through every pending story
  ralph run

  # Attempt at most two stories
  ralph run 2

  # Hand the whole pending batch to a single invocation
  ralph run --team`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&teamMode, "team", false, "dispatch the whole pending batch in one invocation")
}

func runRun(cmd *cobra.Command, args []string) error {
	limit := -1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("limit must be a positive integer, got %q", args[0])
		}
		limit = n
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	runID := cfg.Run.ID
	if runID == "" {
		runID = uuid.NewString()
	}

	// SIGINT/SIGTERM cancel the in-flight invocation; completed stories are
	// already persisted by then.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boundary, err := vcs.Open(".", cfg.Git.Remote, cfg.Git.DefaultBranch, logger)
	if err != nil {
		return err
	}

	invoker := &agent.Invoker{
		Bin:     cfg.Agent.Bin,
		Args:    cfg.Agent.Args,
		Timeout: cfg.Agent.Timeout.Duration(),
		Stream:  agent.NewStreamFormatter(cfg.Agent.Bin, os.Stdout),
	}

	notifier := notify.New(cfg.Notify.BaseURL, runID, cfg.Notify.Timeout.Duration(), logger)

	mode := run.ModeSequential
	if teamMode {
		mode = run.ModeTeam
	}

	summary, err := run.New(cfg, logger, runID, invoker, notifier, boundary).Run(ctx, limit, mode)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// printSummary writes the human-facing run report to stdout. A run with
// blocked stories still exits zero; the report is how the operator finds out.
func printSummary(s *run.Summary) {
	bold := color.New(color.Bold)

	fmt.Println()
	bold.Printf("run %s finished\n", s.RunID)
	fmt.Printf("  attempted: %d\n", s.Attempted)
	fmt.Printf("  completed: %d\n", s.Completed)
	fmt.Printf("  manifest:  %d/%d done (%s)\n", s.Done, s.Total, s.CompletionStatus())
	fmt.Printf("  branch:    %s\n", s.Branch)
	if s.PRURL != "" {
		fmt.Printf("  pr:        %s\n", s.PRURL)
	}
}
