// Package journal keeps an append-only local log of completed stories.
//
// Entries are never rewritten or deleted; they are consumed only as opaque
// lines of recent-progress context for future instruction payloads, so the
// format stays deliberately simple.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry records one completed story.
type Entry struct {
	Timestamp time.Time
	StoryID   string
	Title     string
}

// Line renders the entry in the journal's single-line format:
//
//	2026-08-25T10:00:00Z [story-1] Extract price calculation
func (e Entry) Line() string {
	return fmt.Sprintf("%s [%s] %s", e.Timestamp.UTC().Format(time.RFC3339), e.StoryID, e.Title)
}

// Append adds one entry to the journal at path, creating the file (and its
// directory) on first use.
func Append(path string, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, e.Line()); err != nil {
		return fmt.Errorf("appending journal entry: %w", err)
	}
	return nil
}

// Tail returns up to the last n lines of the journal as opaque strings.
// A missing journal yields an empty slice, not an error.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	// Journals stay small (one line per completed story), so a full scan
	// with a bounded window is fine.
	window := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(window) == n {
			copy(window, window[1:])
			window = window[:n-1]
		}
		window = append(window, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return window, nil
}
