package agent

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"
)

var (
	prefixColor = color.New(color.FgCyan, color.Bold)
	toolColor   = color.New(color.FgYellow)
	dimColor    = color.New(color.Faint)
)

// StreamFormatter turns the agent's stream-json output into compact
// human-readable progress lines. It implements io.Writer so it can sit in
// the MultiWriter tee next to the classification buffer.
//
// Lines that are not valid JSON pass through untouched, so agents running
// without --output-format stream-json still produce visible output.
type StreamFormatter struct {
	prefix string
	dest   io.Writer

	mu  sync.Mutex
	buf []byte
}

// NewStreamFormatter creates a formatter that prefixes every rendered line
// with the story (or batch) label.
func NewStreamFormatter(label string, dest io.Writer) *StreamFormatter {
	return &StreamFormatter{
		prefix: prefixColor.Sprintf("[%s]", label) + " ",
		dest:   dest,
	}
}

func (sf *StreamFormatter) Write(p []byte) (int, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.buf = append(sf.buf, p...)
	for {
		idx := -1
		for i, b := range sf.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		line := string(sf.buf[:idx])
		sf.buf = sf.buf[idx+1:]
		sf.processLine(line)
	}
	return len(p), nil
}

func (sf *StreamFormatter) processLine(line string) {
	if line == "" {
		return
	}
	if !gjson.Valid(line) {
		sf.writeLine(line)
		return
	}

	switch gjson.Get(line, "type").String() {
	case "assistant":
		sf.processAssistant(line)
	case "result":
		if res := gjson.Get(line, "result").String(); res != "" {
			sf.writeLine(res)
		}
	}
	// "user" (tool results) and "system" events are noise at this level.
}

func (sf *StreamFormatter) processAssistant(line string) {
	content := gjson.Get(line, "message.content")
	if !content.Exists() {
		return
	}

	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			if text := item.Get("text").String(); text != "" {
				sf.writeLine(text)
			}
		case "tool_use":
			name := item.Get("name").String()
			hint := toolInputHint(item.Get("input"))
			if hint != "" {
				sf.writeLine(toolColor.Sprint(name) + " " + dimColor.Sprint(hint))
			} else {
				sf.writeLine(toolColor.Sprint(name))
			}
		}
		// "thinking" blocks are skipped: too verbose for a progress feed.
		return true
	})
}

// toolInputHint picks the most recognizable argument of a tool call.
func toolInputHint(input gjson.Result) string {
	for _, key := range []string{"file_path", "path", "command", "pattern"} {
		if v := input.Get(key); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func (sf *StreamFormatter) writeLine(s string) {
	fmt.Fprintln(sf.dest, sf.prefix+s)
}
