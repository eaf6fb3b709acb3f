// Package planner turns a free-form PRD document into a task manifest by
// asking the Anthropic API to decompose it into small, independently
// verifiable stories.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/manifest"
)

// Planner decomposes PRD text into a manifest.
type Planner struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *logging.Logger
}

// New creates a Planner. The API key is read from ANTHROPIC_API_KEY.
func New(cfg config.PlannerConfig, logger *logging.Logger) (*Planner, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	model := anthropic.ModelClaudeSonnet4_5
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}

	return &Planner{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger.Named("planner"),
	}, nil
}

const planPrompt = `You are a senior engineer decomposing a product requirements document into an ordered implementation plan.

Break the work into small stories. Each story must be completable in a single focused coding session and independently verifiable by its acceptance criteria. Order stories so that earlier ones never depend on later ones.

Return your answer as JSON with this exact structure:
{
  "name": "<short-kebab-case-feature-name>",
  "summary": "<one paragraph describing the overall goal>",
  "constraints": ["<project-wide rule that applies to every story>"],
  "tasks": [
    {
      "id": "story-1",
      "title": "<imperative one-liner>",
      "description": "<what to build and where>",
      "acceptance_criteria": ["<observable check>"],
      "implementation_notes": ["<optional hint>"]
    }
  ]
}

Return ONLY the JSON object. No markdown fences, no commentary outside the JSON.
`

// Plan sends the PRD text to the API and parses the response into a
// validated manifest. The manifest is not written to disk; that is the
// caller's decision.
func (p *Planner) Plan(ctx context.Context, prdText string) (*manifest.Manifest, error) {
	if strings.TrimSpace(prdText) == "" {
		return nil, fmt.Errorf("planner: empty PRD text")
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: planPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prdText)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner: API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	m, err := ParseManifest(text)
	if err != nil {
		return nil, err
	}

	p.logger.Info(ctx, "plan generated",
		zap.String("name", m.Name),
		zap.Int("stories", len(m.Stories)))
	return m, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9-]+`)

// ParseManifest parses model output into a manifest, tolerating markdown
// fences and filling in gaps: missing story IDs are assigned positionally
// and an empty branch derives from the name.
func ParseManifest(text string) (*manifest.Manifest, error) {
	text = stripJSONFences(text)

	var m manifest.Manifest
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("planner: parsing model output: %w", err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("planner: model output has no feature name")
	}
	if len(m.Stories) == 0 {
		return nil, fmt.Errorf("planner: model output has no stories")
	}

	m.Name = slugify(m.Name)
	if m.Branch == "" {
		m.Branch = "ralph/" + m.Name
	}
	seen := make(map[string]struct{}, len(m.Stories))
	for i := range m.Stories {
		s := &m.Stories[i]
		if s.ID == "" {
			s.ID = fmt.Sprintf("story-%d", i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("planner: duplicate story id %q in model output", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Title == "" {
			return nil, fmt.Errorf("planner: story %s has no title", s.ID)
		}
		// Planning always starts from a clean slate.
		s.Completed = false
	}

	return &m, nil
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	s = nonSlug.ReplaceAllString(s, "")
	return strings.Trim(s, "-")
}

// stripJSONFences removes markdown code fences that models sometimes add.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
