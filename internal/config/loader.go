package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix is stripped from environment variables before mapping
	// them onto config keys.
	envPrefix = "RALPH_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// DefaultPath is the config file location relative to the working directory.
const DefaultPath = ".ralph/config.yaml"

// Load loads configuration from built-in defaults, then the YAML file at
// configPath (optional, DefaultPath when empty), then RALPH_* environment
// variables.
//
// Environment variables split on the first underscore after the prefix:
//
//	RALPH_AGENT_BIN          -> agent.bin
//	RALPH_NOTIFY_BASE_URL    -> notify.base_url
//	RALPH_GIT_DEFAULT_BRANCH -> git.default_branch
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Built-in defaults first; everything else overrides them.
	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if configPath == "" {
		configPath = DefaultPath
	}

	// Load from YAML file if it exists; absence is not an error.
	if info, err := os.Stat(configPath); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds size limit (%d bytes)", configPath, maxConfigFileSize)
		}
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// RALPH_SECTION_FIELD_NAME -> section.field_name
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
