package planner

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ralph/internal/config"
)

// The configured default must name a model the SDK actually knows, or every
// plan request 404s at the API.
func TestDefaultModelIsKnownToSDK(t *testing.T) {
	assert.Equal(t, anthropic.ModelClaudeSonnet4_5, anthropic.Model(config.NewDefault().Planner.Model))
}

const validPlan = `{
  "name": "Checkout Refactor",
  "summary": "Rework the checkout flow.",
  "constraints": ["keep tests green"],
  "tasks": [
    {"id": "story-1", "title": "Extract cart totals", "description": "Move totals into a package."},
    {"title": "Wire totals into checkout", "description": "Call the new package.", "completed": true}
  ]
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(validPlan)
	require.NoError(t, err)

	assert.Equal(t, "checkout-refactor", m.Name)
	assert.Equal(t, "ralph/checkout-refactor", m.Branch)
	require.Len(t, m.Stories, 2)

	// Missing IDs are assigned positionally.
	assert.Equal(t, "story-2", m.Stories[1].ID)

	// Completion flags from the model are discarded.
	assert.False(t, m.Stories[1].Completed)
}

func TestParseManifest_StripsFences(t *testing.T) {
	fenced := "```json\n" + validPlan + "\n```"
	m, err := ParseManifest(fenced)
	require.NoError(t, err)
	assert.Equal(t, "checkout-refactor", m.Name)
}

func TestParseManifest_PreservesExplicitBranch(t *testing.T) {
	m, err := ParseManifest(`{"name": "fix", "branch": "hotfix/fix", "tasks": [{"id": "story-1", "title": "t", "description": "d"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "hotfix/fix", m.Branch)
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "here is your plan!"},
		{"no name", `{"tasks": [{"id": "story-1", "title": "t"}]}`},
		{"no stories", `{"name": "empty", "tasks": []}`},
		{"duplicate ids", `{"name": "dup", "tasks": [{"id": "a", "title": "t"}, {"id": "a", "title": "u"}]}`},
		{"untitled story", `{"name": "x", "tasks": [{"id": "story-1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "checkout-refactor", slugify("  Checkout Refactor "))
	assert.Equal(t, "v2-api", slugify("V2 API!"))
	assert.Equal(t, "already-kebab", slugify("already-kebab"))
}
