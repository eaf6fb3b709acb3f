package agent

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		want       Outcome
		wantReason string
	}{
		{
			name:   "complete alone",
			output: "STORY COMPLETE",
			want:   OutcomeCompleted,
		},
		{
			name:   "complete buried in noise",
			output: "compiling...\nrunning tests\nSTORY COMPLETE\ntrailing logs",
			want:   OutcomeCompleted,
		},
		{
			name:   "complete mid-line",
			output: "...noise... STORY COMPLETE ...more noise...",
			want:   OutcomeCompleted,
		},
		{
			name:       "blocked with reason",
			output:     "trying things\nBLOCKED: missing dependency\nmore output",
			want:       OutcomeBlocked,
			wantReason: "missing dependency",
		},
		{
			name:       "blocked takes first matching line",
			output:     "BLOCKED: first reason\nBLOCKED: second reason",
			want:       OutcomeBlocked,
			wantReason: "first reason",
		},
		{
			name:   "completion outranks blocked",
			output: "BLOCKED: bogus\nSTORY COMPLETE",
			want:   OutcomeCompleted,
		},
		{
			name:   "no sentinel",
			output: "did some work, exited quietly",
			want:   OutcomeUnclassified,
		},
		{
			name:   "empty output",
			output: "",
			want:   OutcomeUnclassified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.output)
			assert.Equal(t, tt.want, got.Outcome)
			assert.Equal(t, tt.wantReason, got.BlockedReason)
			assert.Equal(t, tt.output, got.RawOutput)
		})
	}
}

func TestInvoke_TrustsSentinelOverExitCode(t *testing.T) {
	iv := &Invoker{
		Bin:  "/bin/sh",
		Args: []string{"-c", "echo STORY COMPLETE; exit 3"},
	}

	res, err := iv.Invoke(context.Background(), "instruction")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
}

func TestInvoke_DeliversInstructionOnStdin(t *testing.T) {
	var stream bytes.Buffer
	iv := &Invoker{
		Bin:    "/bin/sh",
		Args:   []string{"-c", "cat"},
		Stream: &stream,
	}

	res, err := iv.Invoke(context.Background(), "do the thing\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnclassified, res.Outcome)
	assert.Contains(t, res.RawOutput, "do the thing")
	assert.Contains(t, stream.String(), "do the thing")
}

func TestInvoke_CapturesStderr(t *testing.T) {
	iv := &Invoker{
		Bin:  "/bin/sh",
		Args: []string{"-c", "echo 'BLOCKED: broken env' 1>&2"},
	}

	res, err := iv.Invoke(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, "broken env", res.BlockedReason)
}

func TestInvoke_TimeoutClassifiedAsBlocked(t *testing.T) {
	iv := &Invoker{
		Bin:     "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 100 * time.Millisecond,
	}

	res, err := iv.Invoke(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, TimeoutReason, res.BlockedReason)
	assert.Less(t, res.Elapsed, 5*time.Second)
}

func TestInvoke_TimeoutKillsProcessTree(t *testing.T) {
	// The background sleep is a grandchild holding the inherited output
	// pipe; the invocation must still return promptly after the deadline.
	iv := &Invoker{
		Bin:     "/bin/sh",
		Args:    []string{"-c", "sleep 30 & echo started; wait"},
		Timeout: 100 * time.Millisecond,
	}

	start := time.Now()
	res, err := iv.Invoke(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, TimeoutReason, res.BlockedReason)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, res.RawOutput, "started")
}

func TestInvoke_MissingBinaryIsError(t *testing.T) {
	iv := &Invoker{Bin: "/nonexistent/agent-binary"}

	_, err := iv.Invoke(context.Background(), "")
	require.Error(t, err)
}

func TestInvoke_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	iv := &Invoker{Bin: "/bin/sh", Args: []string{"-c", "sleep 10"}}
	_, err := iv.Invoke(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamFormatter(t *testing.T) {
	var out bytes.Buffer
	sf := NewStreamFormatter("story-1", &out)

	lines := []string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the code"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"main.go"}}]}}`,
		`{"type":"system","subtype":"init"}`,
		`plain non-json output`,
	}
	for _, l := range lines {
		_, err := sf.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}

	got := out.String()
	assert.Contains(t, got, "Looking at the code")
	assert.Contains(t, got, "Edit")
	assert.Contains(t, got, "main.go")
	assert.Contains(t, got, "plain non-json output")
	assert.NotContains(t, got, "init")
	// Every rendered line carries the story label.
	for _, line := range strings.Split(strings.TrimSpace(got), "\n") {
		assert.Contains(t, line, "story-1")
	}
}

func TestStreamFormatter_PartialWrites(t *testing.T) {
	var out bytes.Buffer
	sf := NewStreamFormatter("story-1", &out)

	payload := `{"type":"assistant","message":{"content":[{"type":"text","text":"split across writes"}]}}` + "\n"
	half := len(payload) / 2
	_, err := sf.Write([]byte(payload[:half]))
	require.NoError(t, err)
	assert.Empty(t, out.String())

	_, err = sf.Write([]byte(payload[half:]))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "split across writes")
}
