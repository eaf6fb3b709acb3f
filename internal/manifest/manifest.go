// Package manifest implements the persisted task manifest: an ordered list
// of stories with completion flags, read in full at startup and rewritten
// atomically after each story resolves.
//
// The on-disk format is the prd.json document produced by the planner:
//
//	{
//	  "name": "checkout-refactor",
//	  "summary": "...",
//	  "branch": "ralph/checkout-refactor",
//	  "constraints": ["..."],
//	  "tasks": [
//	    {"id": "story-1", "title": "...", "description": "...",
//	     "acceptance_criteria": ["..."], "implementation_notes": ["..."],
//	     "completed": false}
//	  ]
//	}
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound indicates the manifest file is absent.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt indicates the manifest file cannot be parsed into the
	// expected schema.
	ErrCorrupt = errors.New("manifest corrupt")
)

// Story is one discrete, independently verifiable unit of work.
type Story struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	AcceptanceCriteria  []string `json:"acceptance_criteria,omitempty"`
	ImplementationNotes []string `json:"implementation_notes,omitempty"`
	Completed           bool     `json:"completed,omitempty"`
}

// Manifest is the persisted document listing stories and completion state
// for one feature. Created by the planner, only read and incrementally
// updated by the orchestrator.
type Manifest struct {
	Name        string   `json:"name"`
	Summary     string   `json:"summary,omitempty"`
	Branch      string   `json:"branch"`
	Constraints []string `json:"constraints,omitempty"`
	Stories     []Story  `json:"tasks"`
}

// Load reads and validates the manifest at path.
//
// Returns ErrNotFound when the file is absent and ErrCorrupt when it cannot
// be parsed or violates schema invariants (empty or duplicate story IDs).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	seen := make(map[string]struct{}, len(m.Stories))
	for i, s := range m.Stories {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: story %d has empty id", ErrCorrupt, i)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate story id %q", ErrCorrupt, s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	return &m, nil
}

// Save writes the manifest atomically: the document is written to a
// temporary file in the same directory and renamed over the target, so a
// concurrent reader never observes a partial write and a crash between
// stories loses at most the in-flight story's state.
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".prd-*.json")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp manifest: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

// Pending returns stories with Completed == false, in manifest order,
// truncated to limit. A negative limit means no truncation.
func (m *Manifest) Pending(limit int) []Story {
	var pending []Story
	for _, s := range m.Stories {
		if limit >= 0 && len(pending) == limit {
			break
		}
		if s.Completed {
			continue
		}
		pending = append(pending, s)
	}
	return pending
}

// MarkCompleted flips the story with the given id to completed. Idempotent:
// marking an already-completed story is a no-op. Returns false when no story
// has that id.
func (m *Manifest) MarkCompleted(id string) bool {
	for i := range m.Stories {
		if m.Stories[i].ID == id {
			m.Stories[i].Completed = true
			return true
		}
	}
	return false
}

// Done returns the number of completed stories.
func (m *Manifest) Done() int {
	n := 0
	for _, s := range m.Stories {
		if s.Completed {
			n++
		}
	}
	return n
}

// Total returns the number of stories in the manifest.
func (m *Manifest) Total() int {
	return len(m.Stories)
}
