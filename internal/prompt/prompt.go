// Package prompt builds the natural-language instruction payloads sent to
// the external coding agent.
//
// The payloads embed two fixed sentinels the agent must emit verbatim; the
// invoker's outcome classification depends on exact substring matching, so
// the literals live here and nowhere else.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/ralph/internal/manifest"
)

// Sentinels of the agent output contract. Closed contract: changing either
// string breaks classification against agents prompted with the old text.
const (
	// SentinelComplete marks a successfully finished story (or batch).
	SentinelComplete = "STORY COMPLETE"
	// SentinelBlocked prefixes the agent's self-reported reason it cannot
	// proceed, e.g. "BLOCKED: missing dependency".
	SentinelBlocked = "BLOCKED:"
)

// Input carries everything a single-story instruction renders.
type Input struct {
	Story       manifest.Story
	Constraints []string
	JournalTail []string
}

// TeamInput carries everything a team-mode batch instruction renders.
type TeamInput struct {
	Stories     []manifest.Story
	Constraints []string
	JournalTail []string
}

var storyTemplate = template.Must(template.New("story").Parse(`You are implementing story {{.Story.ID}}: {{.Story.Title}}

## Description
{{.Story.Description}}

## Acceptance Criteria
{{range .Story.AcceptanceCriteria}}- [ ] {{.}}
{{end}}{{- if .Story.ImplementationNotes}}
## Implementation Notes
{{range .Story.ImplementationNotes}}- {{.}}
{{end}}{{- end}}{{- if .Constraints}}
## Project Constraints
{{range .Constraints}}- {{.}}
{{end}}{{- end}}{{- if .JournalTail}}
## Recently Completed Work
{{range .JournalTail}}{{.}}
{{end}}{{- end}}
## Instructions
1. Implement the story described above and satisfy every acceptance criterion.
2. Write or update tests as needed and make sure the existing suite passes.
3. Commit your work with a descriptive message.
4. When the story is fully done, print exactly: ` + SentinelComplete + `
5. If you cannot proceed, print exactly: ` + SentinelBlocked + ` <one-line reason> and stop.
`))

var teamTemplate = template.Must(template.New("team").Parse(`You are implementing a batch of {{len .Stories}} stories. Split the work among parallel sub-agents you manage yourself.

## Stories
{{range .Stories}}### {{.ID}}: {{.Title}}
{{.Description}}

Acceptance criteria:
{{range .AcceptanceCriteria}}- [ ] {{.}}
{{end}}{{- if .ImplementationNotes}}Implementation notes:
{{range .ImplementationNotes}}- {{.}}
{{end}}{{- end}}
{{end}}{{- if .Constraints}}## Project Constraints
{{range .Constraints}}- {{.}}
{{end}}
{{end}}{{- if .JournalTail}}## Recently Completed Work
{{range .JournalTail}}{{.}}
{{end}}
{{end}}## Instructions
1. Divide the stories among sub-agents so no two agents edit the same files.
2. Each sub-agent implements its stories, satisfies the acceptance criteria, and commits its work.
3. Coordinate until every story in the batch is complete.
4. Only after ALL stories are done, print exactly: ` + SentinelComplete + `
5. If the batch cannot be completed, print exactly: ` + SentinelBlocked + ` <one-line reason> and stop. Do not print the completion sentinel for partial work.
`))

// Build renders the instruction payload for one story. Pure and
// deterministic: identical input yields identical output.
func Build(in Input) (string, error) {
	var b strings.Builder
	if err := storyTemplate.Execute(&b, in); err != nil {
		return "", fmt.Errorf("rendering story instruction: %w", err)
	}
	return b.String(), nil
}

// BuildTeam renders a single instruction payload covering the whole batch.
// The agent is asked to subdivide internally and report one top-level
// sentinel for the batch; per-story completion is not independently
// verified in this mode.
func BuildTeam(in TeamInput) (string, error) {
	if len(in.Stories) == 0 {
		return "", fmt.Errorf("team instruction requires at least one story")
	}
	var b strings.Builder
	if err := teamTemplate.Execute(&b, in); err != nil {
		return "", fmt.Errorf("rendering team instruction: %w", err)
	}
	return b.String(), nil
}
