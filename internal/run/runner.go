// Package run implements the orchestration loop: prerequisite checks, work
// selection, sequential or team dispatch against the external agent, result
// handling, and the finalize/push boundary.
//
// Failure semantics, in one place:
//   - prerequisite failures (missing manifest, agent binary, credentials,
//     broken repository) are fatal and surface as a returned error;
//   - per-story blocked and unclassified outcomes are recoverable and never
//     abort the run;
//   - push and pull-request failures are logged and absorbed;
//   - manifest write failures are fatal for the run, because silently
//     dropping completed progress is worse than stopping.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/agent"
	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/journal"
	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/manifest"
	"github.com/fyrsmithlabs/ralph/internal/notify"
	"github.com/fyrsmithlabs/ralph/internal/prompt"
	"github.com/fyrsmithlabs/ralph/internal/vcs"
)

// ErrPrereq wraps fatal configuration problems detected before any work is
// attempted.
var ErrPrereq = errors.New("prerequisite check failed")

// Mode is the execution topology for one run.
type Mode string

const (
	// ModeSequential processes exactly one story per agent invocation.
	ModeSequential Mode = "sequential"
	// ModeTeam hands the whole pending batch to a single invocation that
	// subdivides internally. Completion is observed only at batch
	// granularity; this is a materially weaker guarantee than sequential
	// mode.
	ModeTeam Mode = "team"
)

// Invoker runs one agent invocation. Satisfied by *agent.Invoker.
type Invoker interface {
	Invoke(ctx context.Context, instruction string) (*agent.Result, error)
}

// Notifier emits lifecycle events. Satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, message string, extra map[string]any)
}

// Boundary manages the VCS run boundary. Satisfied by *vcs.Boundary.
type Boundary interface {
	Prepare(ctx context.Context, runBranch string) error
	HasNewCommits() (bool, error)
	Push(ctx context.Context) error
	OpenPullRequest(ctx context.Context, opts vcs.PROptions) (string, error)
}

// Summary is the outcome of one run, reported to the caller and the
// notification sink. A run that completes zero stories is still a normal
// exit; distinguishing "nothing to do" from "everything blocked" is the
// caller's job via Attempted/Completed.
type Summary struct {
	RunID     string
	Mode      Mode
	Attempted int
	Completed int
	Total     int
	Done      int
	Branch    string
	PRURL     string
}

// CompletionStatus classifies the manifest state after the run: "complete",
// "partial", or "none".
func (s Summary) CompletionStatus() string {
	switch {
	case s.Total > 0 && s.Done == s.Total:
		return "complete"
	case s.Done > 0:
		return "partial"
	default:
		return "none"
	}
}

// Runner drives one orchestrator run against one manifest.
type Runner struct {
	cfg      *config.Config
	logger   *logging.Logger
	runID    string
	invoker  Invoker
	notifier Notifier
	boundary Boundary

	// Test seams; default to the real thing.
	lookPath func(string) (string, error)
	getenv   func(string) string
	sleep    func(context.Context, time.Duration)
}

// New creates a Runner. All collaborators are required except the notifier,
// which may be a disabled *notify.Notifier.
func New(cfg *config.Config, logger *logging.Logger, runID string, inv Invoker, n Notifier, b Boundary) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger.Named("run"),
		runID:    runID,
		invoker:  inv,
		notifier: n,
		boundary: b,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		sleep:    sleepCtx,
	}
}

// Run executes the loop: at most limit stories (negative = all pending) in
// the given mode. The returned Summary is valid whenever err is nil.
func (r *Runner) Run(ctx context.Context, limit int, mode Mode) (*Summary, error) {
	ctx = logging.WithRunID(ctx, r.runID)

	m, err := r.prereqs(ctx)
	if err != nil {
		return nil, err
	}

	lock, err := manifest.AcquireLock(filepath.Dir(r.cfg.Manifest.Path), r.runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrereq, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.Warn(ctx, "releasing run lock failed", zap.Error(err))
		}
	}()

	branch := m.Branch
	if branch == "" {
		branch = "ralph/" + m.Name
	}
	if err := r.boundary.Prepare(ctx, branch); err != nil {
		err = fmt.Errorf("%w: preparing run branch: %v", ErrPrereq, err)
		r.notifier.Notify(ctx, notify.EventRunFailed, err.Error(), nil)
		return nil, err
	}

	summary := &Summary{
		RunID:  r.runID,
		Mode:   mode,
		Total:  m.Total(),
		Branch: branch,
	}

	pending := m.Pending(limit)
	r.notifier.Notify(ctx, notify.EventRunStarted,
		fmt.Sprintf("run %s started: %d of %d stories pending", r.runID, len(pending), m.Total()),
		map[string]any{"mode": string(mode), "pending": len(pending), "total": m.Total()})

	r.logger.Info(ctx, "run started",
		zap.String("mode", string(mode)),
		zap.Int("pending", len(pending)),
		zap.Int("total", m.Total()))

	if len(pending) > 0 {
		switch mode {
		case ModeTeam:
			err = r.dispatchTeam(ctx, m, pending, summary)
		default:
			err = r.dispatchSequential(ctx, m, pending, summary)
		}
		if err != nil {
			r.notifier.Notify(ctx, notify.EventRunFailed, err.Error(), nil)
			return nil, err
		}
	}

	return summary, r.finalize(ctx, m, summary)
}

// prereqs validates the fatal preconditions: manifest present and parseable,
// agent binary resolvable, credentials in the environment. These are
// configuration errors; no retry, no notification.
func (r *Runner) prereqs(ctx context.Context) (*manifest.Manifest, error) {
	m, err := manifest.Load(r.cfg.Manifest.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrereq, err)
	}

	if _, err := r.lookPath(r.cfg.Agent.Bin); err != nil {
		return nil, fmt.Errorf("%w: agent binary %q not found in PATH", ErrPrereq, r.cfg.Agent.Bin)
	}

	if env := r.cfg.Agent.CredentialEnv; env != "" && r.getenv(env) == "" {
		return nil, fmt.Errorf("%w: required credential %s is not set", ErrPrereq, env)
	}

	r.logger.Debug(ctx, "prerequisites satisfied",
		zap.String("manifest", r.cfg.Manifest.Path),
		zap.String("agent", r.cfg.Agent.Bin))
	return m, nil
}

// dispatchSequential processes stories one at a time in manifest order. A
// blocked story never halts the run; the loop moves to the next story.
func (r *Runner) dispatchSequential(ctx context.Context, m *manifest.Manifest, pending []manifest.Story, summary *Summary) error {
	for i, story := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		if i > 0 {
			// Courtesy pause between invocations; not a correctness
			// requirement.
			r.sleep(ctx, r.cfg.Run.Pause.Duration())
		}

		storyCtx := logging.WithStoryID(ctx, story.ID)

		tail, err := journal.Tail(r.cfg.Journal.Path, r.cfg.Journal.TailLines)
		if err != nil {
			r.logger.Warn(storyCtx, "reading journal tail failed", zap.Error(err))
		}

		instruction, err := prompt.Build(prompt.Input{
			Story:       story,
			Constraints: m.Constraints,
			JournalTail: tail,
		})
		if err != nil {
			return fmt.Errorf("building instruction for %s: %w", story.ID, err)
		}

		r.notifier.Notify(storyCtx, notify.EventStoryRunning,
			fmt.Sprintf("%s: %s", story.ID, story.Title),
			map[string]any{"story_id": story.ID})
		r.logger.Info(storyCtx, "story started", zap.String("title", story.Title))

		result, err := r.invoker.Invoke(storyCtx, instruction)
		if err != nil {
			return fmt.Errorf("invoking agent for %s: %w", story.ID, err)
		}
		summary.Attempted++

		switch result.Outcome {
		case agent.OutcomeCompleted:
			if err := r.recordCompleted(storyCtx, m, story); err != nil {
				return err
			}
			summary.Completed++
			r.logger.Info(storyCtx, "story completed",
				zap.Duration("elapsed", result.Elapsed))
			r.notifier.Notify(storyCtx, notify.EventStoryProgress,
				fmt.Sprintf("%s completed (%d/%d done)", story.ID, m.Done(), m.Total()),
				map[string]any{"story_id": story.ID, "done": m.Done(), "total": m.Total()})

		case agent.OutcomeBlocked:
			r.logger.Warn(storyCtx, "story blocked",
				zap.String("reason", result.BlockedReason),
				zap.Int("exit_code", result.ExitCode))
			r.notifier.Notify(storyCtx, notify.EventStoryBlocked,
				fmt.Sprintf("%s blocked: %s", story.ID, result.BlockedReason),
				map[string]any{"story_id": story.ID, "reason": result.BlockedReason})

		case agent.OutcomeUnclassified:
			// No sentinel in the output. Treated as a soft success so a
			// chatty-but-done agent doesn't stall the manifest, but loud
			// enough that an operator can audit it.
			r.logger.Warn(storyCtx, "story output had no sentinel, treating as completed",
				zap.Int("exit_code", result.ExitCode))
			if err := r.recordCompleted(storyCtx, m, story); err != nil {
				return err
			}
			summary.Completed++
			r.notifier.Notify(storyCtx, notify.EventStoryUnclassified,
				fmt.Sprintf("%s finished without a sentinel, marked completed", story.ID),
				map[string]any{"story_id": story.ID, "exit_code": result.ExitCode})
		}
	}
	return nil
}

// dispatchTeam hands the entire pending batch to one invocation. A single
// completed outcome marks every story in the batch; there is no per-story
// verification and no partial-batch recovery.
func (r *Runner) dispatchTeam(ctx context.Context, m *manifest.Manifest, pending []manifest.Story, summary *Summary) error {
	tail, err := journal.Tail(r.cfg.Journal.Path, r.cfg.Journal.TailLines)
	if err != nil {
		r.logger.Warn(ctx, "reading journal tail failed", zap.Error(err))
	}

	instruction, err := prompt.BuildTeam(prompt.TeamInput{
		Stories:     pending,
		Constraints: m.Constraints,
		JournalTail: tail,
	})
	if err != nil {
		return fmt.Errorf("building team instruction: %w", err)
	}

	ids := make([]string, len(pending))
	for i, s := range pending {
		ids[i] = s.ID
	}

	r.notifier.Notify(ctx, notify.EventStoryRunning,
		fmt.Sprintf("team batch of %d stories", len(pending)),
		map[string]any{"story_ids": ids})
	r.logger.Info(ctx, "team batch started", zap.Strings("story_ids", ids))

	result, err := r.invoker.Invoke(ctx, instruction)
	if err != nil {
		return fmt.Errorf("invoking agent for team batch: %w", err)
	}
	summary.Attempted = len(pending)

	switch result.Outcome {
	case agent.OutcomeCompleted:
		for _, story := range pending {
			m.MarkCompleted(story.ID)
		}
		if err := manifest.Save(r.cfg.Manifest.Path, m); err != nil {
			return fmt.Errorf("persisting manifest after team batch: %w", err)
		}
		for _, story := range pending {
			r.appendJournal(ctx, story)
		}
		summary.Completed = len(pending)
		r.logger.Info(ctx, "team batch completed", zap.Int("stories", len(pending)))
		r.notifier.Notify(ctx, notify.EventStoryProgress,
			fmt.Sprintf("team batch completed %d stories", len(pending)),
			map[string]any{"story_ids": ids, "done": m.Done(), "total": m.Total()})

	case agent.OutcomeBlocked:
		r.logger.Warn(ctx, "team batch blocked", zap.String("reason", result.BlockedReason))
		r.notifier.Notify(ctx, notify.EventStoryBlocked,
			fmt.Sprintf("team batch blocked: %s", result.BlockedReason),
			map[string]any{"story_ids": ids, "reason": result.BlockedReason})

	case agent.OutcomeUnclassified:
		// Unlike sequential mode there is no per-story evidence at all
		// here, so nothing is marked; the batch stays pending for a
		// future run.
		r.logger.Warn(ctx, "team batch output had no sentinel, leaving batch pending")
		r.notifier.Notify(ctx, notify.EventStoryUnclassified,
			"team batch finished without a sentinel, no stories marked",
			map[string]any{"story_ids": ids, "exit_code": result.ExitCode})
	}
	return nil
}

// recordCompleted persists one story's completion: manifest first (fatal on
// failure), then the journal (best-effort).
func (r *Runner) recordCompleted(ctx context.Context, m *manifest.Manifest, story manifest.Story) error {
	m.MarkCompleted(story.ID)
	if err := manifest.Save(r.cfg.Manifest.Path, m); err != nil {
		return fmt.Errorf("persisting manifest after %s: %w", story.ID, err)
	}
	r.appendJournal(ctx, story)
	return nil
}

func (r *Runner) appendJournal(ctx context.Context, story manifest.Story) {
	err := journal.Append(r.cfg.Journal.Path, journal.Entry{
		Timestamp: time.Now(),
		StoryID:   story.ID,
		Title:     story.Title,
	})
	if err != nil {
		r.logger.Warn(ctx, "journal append failed",
			zap.String("story_id", story.ID), zap.Error(err))
	}
}

// finalize pushes accumulated commits when anything completed, optionally
// opens a pull request, and emits the final summary notification. Push and
// PR failures are absorbed: the branch and manifest survive locally.
func (r *Runner) finalize(ctx context.Context, m *manifest.Manifest, summary *Summary) error {
	summary.Done = m.Done()

	if summary.Completed > 0 {
		hasNew, err := r.boundary.HasNewCommits()
		if err != nil {
			r.logger.Warn(ctx, "checking for new commits failed", zap.Error(err))
		}
		if hasNew {
			if err := r.boundary.Push(ctx); err != nil {
				r.logger.Warn(ctx, "push failed, commits remain local", zap.Error(err))
			} else if r.cfg.Git.GitHubToken.IsSet() {
				url, err := r.boundary.OpenPullRequest(ctx, vcs.PROptions{
					Token: r.cfg.Git.GitHubToken,
					Owner: r.cfg.Git.Owner,
					Repo:  r.cfg.Git.Repo,
					Title: m.Name,
					Body:  prBody(m),
				})
				if err != nil {
					r.logger.Warn(ctx, "opening pull request failed", zap.Error(err))
				} else {
					summary.PRURL = url
				}
			}
		}
	}

	r.logger.Info(ctx, "run finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("completed", summary.Completed),
		zap.String("status", summary.CompletionStatus()))

	r.notifier.Notify(ctx, notify.EventRunCompleted,
		fmt.Sprintf("run %s finished: %d of %d attempted stories completed", r.runID, summary.Completed, summary.Attempted),
		map[string]any{
			"attempted":         summary.Attempted,
			"completed":         summary.Completed,
			"stories_done":      summary.Done,
			"stories_total":     summary.Total,
			"completion_status": summary.CompletionStatus(),
			"branch":            summary.Branch,
			"pr_url":            summary.PRURL,
		})
	return nil
}

// prBody renders the pull-request description from the manifest state.
func prBody(m *manifest.Manifest) string {
	var b strings.Builder
	if m.Summary != "" {
		b.WriteString(m.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("## Stories\n")
	for _, s := range m.Stories {
		mark := " "
		if s.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", mark, s.ID, s.Title)
	}
	return b.String()
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
