package vcs

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/ralph/internal/config"
)

// githubRemotePattern matches the owner/repo part of both SSH and HTTPS
// GitHub remote URLs.
var githubRemotePattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?$`)

// ParseGitHubRemote extracts owner and repo from a GitHub remote URL.
// Returns ok=false for non-GitHub remotes.
func ParseGitHubRemote(url string) (owner, repo string, ok bool) {
	m := githubRemotePattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// PROptions configures pull-request creation after a successful push.
type PROptions struct {
	Token config.Secret
	// Owner/Repo override remote-URL detection when set.
	Owner string
	Repo  string
	Title string
	Body  string
}

// OpenPullRequest opens a pull request from the run branch to the default
// branch, or returns the existing one for the same head. The returned URL is
// informational; callers treat any error here as non-fatal.
func (b *Boundary) OpenPullRequest(ctx context.Context, opts PROptions) (string, error) {
	if !opts.Token.IsSet() {
		return "", fmt.Errorf("github token not set")
	}

	owner, repo := opts.Owner, opts.Repo
	if owner == "" || repo == "" {
		var ok bool
		owner, repo, ok = ParseGitHubRemote(b.RemoteURL())
		if !ok {
			return "", fmt.Errorf("remote %q is not a GitHub repository", b.RemoteURL())
		}
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	// Reuse an open PR for this head if one exists (resumed runs).
	existing, _, err := client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		Head:  owner + ":" + b.runBranch,
		Base:  b.defaultBranch,
		State: "open",
	})
	if err == nil && len(existing) > 0 {
		return existing[0].GetHTMLURL(), nil
	}

	title := opts.Title
	if title == "" {
		title = b.runBranch
	}
	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(b.runBranch),
		Base:  github.String(b.defaultBranch),
		Body:  github.String(opts.Body),
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}
	return pr.GetHTMLURL(), nil
}
