package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/logging"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func initRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "README.md", "hello\n")
	return repo, dir
}

func TestOpen_NotARepository(t *testing.T) {
	_, err := Open(t.TempDir(), "origin", "master", logging.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestPrepare_CreatesRunBranch(t *testing.T) {
	repo, dir := initRepo(t)

	b, err := Open(dir, "origin", "master", logging.NewNop())
	require.NoError(t, err)

	// No origin remote exists; fetch failure must be tolerated.
	require.NoError(t, b.Prepare(context.Background(), "ralph/feature-x"))

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/ralph/feature-x", head.Name().String())

	fresh, err := b.HasNewCommits()
	require.NoError(t, err)
	assert.False(t, fresh)

	commitFile(t, repo, dir, "work.txt", "done\n")
	fresh, err = b.HasNewCommits()
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestPrepare_ResumesExistingBranch(t *testing.T) {
	repo, dir := initRepo(t)

	b, err := Open(dir, "origin", "master", logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Prepare(context.Background(), "ralph/resume-me"))
	commitFile(t, repo, dir, "wip.txt", "in progress\n")
	wip, err := repo.Head()
	require.NoError(t, err)

	// A second run against the same manifest resumes the branch with the
	// prior run's commits intact.
	b2, err := Open(dir, "origin", "master", logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, b2.Prepare(context.Background(), "ralph/resume-me"))

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/ralph/resume-me", head.Name().String())
	assert.Equal(t, wip.Hash(), head.Hash())
}

func TestPush_ToLocalRemote(t *testing.T) {
	repo, dir := initRepo(t)

	bareDir := t.TempDir()
	bare, err := git.PlainInit(bareDir, true)
	require.NoError(t, err)

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{bareDir},
	})
	require.NoError(t, err)

	b, err := Open(dir, "origin", "master", logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Prepare(context.Background(), "ralph/pushed"))
	commitFile(t, repo, dir, "work.txt", "done\n")

	require.NoError(t, b.Push(context.Background()))

	refs, err := bare.References()
	require.NoError(t, err)
	found := false
	require.NoError(t, refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().String() == "refs/heads/ralph/pushed" {
			found = true
		}
		return nil
	}))
	assert.True(t, found, "run branch must exist on the remote after push")

	// Pushing again with nothing new is not an error.
	require.NoError(t, b.Push(context.Background()))
}

func TestParseGitHubRemote(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
		ok    bool
	}{
		{"git@github.com:fyrsmithlabs/ralph.git", "fyrsmithlabs", "ralph", true},
		{"https://github.com/fyrsmithlabs/ralph.git", "fyrsmithlabs", "ralph", true},
		{"https://github.com/fyrsmithlabs/ralph", "fyrsmithlabs", "ralph", true},
		{"https://gitlab.com/other/thing.git", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		owner, repo, ok := ParseGitHubRemote(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.repo, repo, tt.url)
	}
}

func TestOpenPullRequest_RequiresToken(t *testing.T) {
	_, dir := initRepo(t)
	b, err := Open(dir, "origin", "master", logging.NewNop())
	require.NoError(t, err)

	_, err = b.OpenPullRequest(context.Background(), PROptions{Token: config.Secret("")})
	require.Error(t, err)
}
