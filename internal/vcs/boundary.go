// Package vcs manages the orchestrator's run boundary against the local git
// repository: a clean run branch before work starts, a best-effort push (and
// optional pull request) after work completes.
//
// Conflict resolution is explicitly out of scope: the boundary never merges
// or rebases. A failed push leaves the branch intact locally for a human.
package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/logging"
)

// ErrNotRepository indicates the working directory is not a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Boundary wraps one repository for the duration of a run.
type Boundary struct {
	repo          *git.Repository
	remote        string
	defaultBranch string
	runBranch     string
	logger        *logging.Logger

	// startHead is the commit the run branch pointed at after Prepare;
	// anything past it was committed during this run.
	startHead plumbing.Hash
}

// Open opens the repository at path.
func Open(path, remote, defaultBranch string, logger *logging.Logger) (*Boundary, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Boundary{
		repo:          repo,
		remote:        remote,
		defaultBranch: defaultBranch,
		logger:        logger.Named("vcs"),
	}, nil
}

// Prepare syncs the default branch with the remote and ensures the run
// branch exists: created from the default branch head if absent, switched to
// if present (resuming a prior run's branch).
//
// Fetch failures are logged and tolerated so offline runs still work against
// the local default branch head.
func (b *Boundary) Prepare(ctx context.Context, runBranch string) error {
	if runBranch == "" {
		return fmt.Errorf("run branch name cannot be empty")
	}
	b.runBranch = runBranch

	if err := b.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: b.remote}); err != nil {
		switch {
		case errors.Is(err, git.NoErrAlreadyUpToDate):
			// Nothing new.
		default:
			b.logger.Warn(ctx, "fetch failed, continuing with local state",
				zap.String("remote", b.remote), zap.Error(err))
		}
	}

	wt, err := b.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	defaultRef := plumbing.NewBranchReferenceName(b.defaultBranch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: defaultRef}); err != nil {
		return fmt.Errorf("checking out %s: %w", b.defaultBranch, err)
	}
	if err := wt.PullContext(ctx, &git.PullOptions{RemoteName: b.remote}); err != nil &&
		!errors.Is(err, git.NoErrAlreadyUpToDate) {
		b.logger.Warn(ctx, "pull failed, continuing with local state",
			zap.String("branch", b.defaultBranch), zap.Error(err))
	}

	runRef := plumbing.NewBranchReferenceName(runBranch)
	_, err = b.repo.Reference(runRef, true)
	switch {
	case err == nil:
		// Resume the existing run branch.
		if err := wt.Checkout(&git.CheckoutOptions{Branch: runRef}); err != nil {
			return fmt.Errorf("switching to run branch %s: %w", runBranch, err)
		}
		b.logger.Info(ctx, "resumed existing run branch", zap.String("branch", runBranch))
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if err := wt.Checkout(&git.CheckoutOptions{Branch: runRef, Create: true}); err != nil {
			return fmt.Errorf("creating run branch %s: %w", runBranch, err)
		}
		b.logger.Info(ctx, "created run branch", zap.String("branch", runBranch))
	default:
		return fmt.Errorf("resolving run branch %s: %w", runBranch, err)
	}

	head, err := b.repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	b.startHead = head.Hash()
	return nil
}

// HasNewCommits reports whether the run branch moved past the commit it
// pointed at after Prepare.
func (b *Boundary) HasNewCommits() (bool, error) {
	head, err := b.repo.Head()
	if err != nil {
		return false, fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash() != b.startHead, nil
}

// Push pushes the run branch to the remote. Callers treat failures as
// non-fatal: the commits and manifest state survive locally.
func (b *Boundary) Push(ctx context.Context) error {
	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", b.runBranch, b.runBranch))
	err := b.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: b.remote,
		RefSpecs:   []config.RefSpec{refSpec},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pushing %s to %s: %w", b.runBranch, b.remote, err)
	}
	return nil
}

// RemoteURL returns the first URL of the configured remote, or empty when
// the remote does not exist.
func (b *Boundary) RemoteURL() string {
	remote, err := b.repo.Remote(b.remote)
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return remote.Config().URLs[0]
}

// RunBranch returns the branch selected by Prepare.
func (b *Boundary) RunBranch() string {
	return b.runBranch
}

// DefaultBranch returns the configured default branch.
func (b *Boundary) DefaultBranch() string {
	return b.defaultBranch
}
