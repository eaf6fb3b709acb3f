// Package config provides configuration loading for ralph.
//
// Configuration precedence (highest to lowest):
//  1. RALPH_* environment variables (RALPH_AGENT_BIN, RALPH_NOTIFY_BASE_URL, ...)
//  2. YAML config file (.ralph/config.yaml in the working directory)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"
)

// Config holds the complete ralph configuration.
type Config struct {
	Manifest ManifestConfig `koanf:"manifest"`
	Journal  JournalConfig  `koanf:"journal"`
	Agent    AgentConfig    `koanf:"agent"`
	Notify   NotifyConfig   `koanf:"notify"`
	Git      GitConfig      `koanf:"git"`
	Planner  PlannerConfig  `koanf:"planner"`
	Run      RunConfig      `koanf:"run"`
	Log      LogConfig      `koanf:"log"`
}

// ManifestConfig locates the persisted task manifest.
type ManifestConfig struct {
	Path string `koanf:"path"`
}

// JournalConfig locates the append-only progress journal.
type JournalConfig struct {
	Path string `koanf:"path"`
	// TailLines is how many recent journal lines are fed back into
	// instruction payloads as cross-run context.
	TailLines int `koanf:"tail_lines"`
}

// AgentConfig controls how the external coding agent is invoked.
type AgentConfig struct {
	// Bin is the agent binary name or path, resolved via PATH at startup.
	Bin string `koanf:"bin"`
	// Args are passed to every invocation; the instruction itself is
	// delivered on stdin.
	Args []string `koanf:"args"`
	// Timeout bounds a single invocation. Zero disables the bound.
	Timeout Duration `koanf:"timeout"`
	// CredentialEnv names the environment variable whose presence is a
	// startup prerequisite (the agent reads it itself).
	CredentialEnv string `koanf:"credential_env"`
}

// NotifyConfig controls the lifecycle-event sink.
type NotifyConfig struct {
	// BaseURL of the HTTP sink. Empty disables notifications entirely.
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
}

// GitConfig controls the VCS run boundary.
type GitConfig struct {
	Remote        string `koanf:"remote"`
	DefaultBranch string `koanf:"default_branch"`
	// GitHubToken enables pull-request creation after a successful push.
	// Optional; absence only disables the PR step.
	GitHubToken Secret `koanf:"github_token"`
	// Owner/Repo identify the GitHub repository for PR creation. Derived
	// from the origin URL when empty.
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
}

// PlannerConfig controls PRD-to-manifest planning via the Anthropic API.
type PlannerConfig struct {
	Model     string `koanf:"model"`
	MaxTokens int    `koanf:"max_tokens"`
}

// RunConfig controls loop pacing and identity.
type RunConfig struct {
	// ID overrides the generated run identifier. Usually left empty.
	ID string `koanf:"id"`
	// Pause is the fixed delay between sequential story invocations.
	Pause Duration `koanf:"pause"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Manifest.Path == "" {
		return fmt.Errorf("manifest.path cannot be empty")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path cannot be empty")
	}
	if c.Journal.TailLines < 0 {
		return fmt.Errorf("journal.tail_lines must be >= 0, got %d", c.Journal.TailLines)
	}
	if c.Agent.Bin == "" {
		return fmt.Errorf("agent.bin cannot be empty")
	}
	if c.Git.Remote == "" {
		return fmt.Errorf("git.remote cannot be empty")
	}
	if c.Git.DefaultBranch == "" {
		return fmt.Errorf("git.default_branch cannot be empty")
	}
	if c.Notify.Timeout.Duration() <= 0 {
		return fmt.Errorf("notify.timeout must be > 0")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}
	return nil
}

// defaultYAML is loaded first via the rawbytes provider; file and
// environment values override it.
const defaultYAML = `
manifest:
  path: .ralph/prd.json
journal:
  path: .ralph/progress.log
  tail_lines: 20
agent:
  bin: claude
  args: ["-p", "--output-format", "stream-json", "--verbose"]
  timeout: 30m
  credential_env: ANTHROPIC_API_KEY
notify:
  base_url: ""
  timeout: 5s
git:
  remote: origin
  default_branch: main
planner:
  model: claude-sonnet-4-5
  max_tokens: 8192
run:
  pause: 2s
log:
  level: info
  format: console
`

// NewDefault returns the built-in defaults without touching file or
// environment. Primarily for tests.
func NewDefault() *Config {
	return &Config{
		Manifest: ManifestConfig{Path: ".ralph/prd.json"},
		Journal:  JournalConfig{Path: ".ralph/progress.log", TailLines: 20},
		Agent: AgentConfig{
			Bin:           "claude",
			Args:          []string{"-p", "--output-format", "stream-json", "--verbose"},
			Timeout:       Duration(30 * time.Minute),
			CredentialEnv: "ANTHROPIC_API_KEY",
		},
		Notify: NotifyConfig{Timeout: Duration(5 * time.Second)},
		Git:    GitConfig{Remote: "origin", DefaultBranch: "main"},
		Planner: PlannerConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 8192,
		},
		Run: RunConfig{Pause: Duration(2 * time.Second)},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}
