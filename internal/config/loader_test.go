package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ".ralph/prd.json", cfg.Manifest.Path)
	assert.Equal(t, ".ralph/progress.log", cfg.Journal.Path)
	assert.Equal(t, 20, cfg.Journal.TailLines)
	assert.Equal(t, "claude", cfg.Agent.Bin)
	assert.Equal(t, 30*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Agent.CredentialEnv)
	assert.Empty(t, cfg.Notify.BaseURL)
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, "main", cfg.Git.DefaultBranch)
	assert.Equal(t, 2*time.Second, cfg.Run.Pause.Duration())
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `agent:
  bin: /usr/local/bin/claude
  timeout: 5m
notify:
  base_url: http://sink.internal:8080
run:
  pause: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.Bin)
	assert.Equal(t, 5*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, "http://sink.internal:8080", cfg.Notify.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Run.Pause.Duration())
	// Untouched sections keep defaults.
	assert.Equal(t, ".ralph/prd.json", cfg.Manifest.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  bin: from-file\n"), 0600))

	t.Setenv("RALPH_AGENT_BIN", "from-env")
	t.Setenv("RALPH_NOTIFY_BASE_URL", "http://localhost:9999")
	t.Setenv("RALPH_GIT_DEFAULT_BRANCH", "trunk")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Agent.Bin)
	assert.Equal(t, "http://localhost:9999", cfg.Notify.BaseURL)
	assert.Equal(t, "trunk", cfg.Git.DefaultBranch)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: [unclosed"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty manifest path",
			mutate:  func(c *Config) { c.Manifest.Path = "" },
			wantErr: "manifest.path",
		},
		{
			name:    "empty agent bin",
			mutate:  func(c *Config) { c.Agent.Bin = "" },
			wantErr: "agent.bin",
		},
		{
			name:    "negative tail lines",
			mutate:  func(c *Config) { c.Journal.TailLines = -1 },
			wantErr: "journal.tail_lines",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("ghp_supersecret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")

	// Every fmt verb must redact; %#v in particular falls back to the raw
	// underlying string without GoString.
	for _, verb := range []string{"%s", "%v", "%#v", "%q"} {
		assert.NotContains(t, fmt.Sprintf(verb, s), "supersecret", verb)
	}

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
