// Package agent spawns the external coding agent and classifies its output.
//
// The agent is a black box invoked as a subprocess; the only protocol is the
// pair of textual sentinels the instruction payload asks it to emit. The
// classification here is a best-effort heuristic over unstructured text, not
// a structured wire format, and the agent's self-report is trusted over its
// exit code.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/ralph/internal/prompt"
)

// Outcome is the terminal classification of one invocation.
type Outcome string

const (
	// OutcomeCompleted: the completion sentinel appeared in the output.
	OutcomeCompleted Outcome = "completed"
	// OutcomeBlocked: the agent self-reported it cannot proceed, or the
	// invocation hit the configured timeout.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeUnclassified: no sentinel appeared. The orchestration loop
	// treats this as a soft success but flags it for operator visibility.
	OutcomeUnclassified Outcome = "unclassified"
)

// TimeoutReason is the blocked reason recorded when an invocation exceeds
// its time bound.
const TimeoutReason = "timeout"

// waitGrace bounds how long Wait may linger on inherited output pipes after
// cancellation or child exit. Agents spawn their own subprocesses; one that
// escapes the group kill must not hold the loop open through the pipe.
const waitGrace = 3 * time.Second

// Result is the observed terminal state of one agent invocation.
type Result struct {
	Outcome       Outcome
	BlockedReason string
	RawOutput     string
	ExitCode      int
	Elapsed       time.Duration
}

// Invoker runs the external agent binary.
type Invoker struct {
	// Bin is the agent binary; resolved against PATH.
	Bin string
	// Args precede the instruction, which is delivered on stdin.
	Args []string
	// Timeout bounds one invocation; zero means unbounded.
	Timeout time.Duration
	// Stream receives the live combined output in addition to the
	// in-memory buffer. Nil discards the live stream.
	Stream io.Writer
}

// Invoke spawns the agent with the instruction on stdin, tees combined
// stdout/stderr to Stream and an in-memory buffer, waits for exit, and
// classifies the buffered output.
//
// A non-zero exit code does not by itself produce an error: the sentinel
// contract outranks exit status. Errors are returned only when the process
// cannot be started or the parent context is cancelled. A timeout is not an
// error either; it yields a Blocked result so the loop can move on.
func (iv *Invoker) Invoke(ctx context.Context, instruction string) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if iv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, iv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, iv.Bin, iv.Args...)
	cmd.Stdin = strings.NewReader(instruction)

	// The agent forks its own subprocesses. Run it in its own process group
	// and take the whole group down on cancellation; otherwise grandchildren
	// survive the kill and keep the output pipe open indefinitely.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = waitGrace

	var buf bytes.Buffer
	out := io.Writer(&buf)
	if iv.Stream != nil {
		out = io.MultiWriter(&buf, iv.Stream)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("agent invocation cancelled: %w", ctx.Err())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &Result{
			Outcome:       OutcomeBlocked,
			BlockedReason: TimeoutReason,
			RawOutput:     buf.String(),
			ExitCode:      exitCode(runErr),
			Elapsed:       elapsed,
		}, nil
	}

	if runErr != nil && !errors.Is(runErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Process never ran (missing binary, exec failure).
			return nil, fmt.Errorf("spawning agent %s: %w", iv.Bin, runErr)
		}
	}

	result := Classify(buf.String())
	result.ExitCode = exitCode(runErr)
	if errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		// The child exited; only a pipe inheritor outlived the grace window.
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	result.Elapsed = elapsed
	return result, nil
}

// Classify inspects the full buffered output for the sentinel contract.
//
// Rules, in order:
//  1. The completion sentinel anywhere wins, regardless of anything else.
//  2. Otherwise the first line containing the blocked sentinel yields a
//     Blocked result carrying that line's trailing reason.
//  3. Otherwise the output is Unclassified.
func Classify(output string) *Result {
	if strings.Contains(output, prompt.SentinelComplete) {
		return &Result{Outcome: OutcomeCompleted, RawOutput: output}
	}

	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, prompt.SentinelBlocked)
		if idx < 0 {
			continue
		}
		reason := strings.TrimSpace(line[idx+len(prompt.SentinelBlocked):])
		if reason == "" {
			reason = strings.TrimSpace(line)
		}
		return &Result{
			Outcome:       OutcomeBlocked,
			BlockedReason: reason,
			RawOutput:     output,
		}
	}

	return &Result{Outcome: OutcomeUnclassified, RawOutput: output}
}

// exitCode extracts a process exit code from cmd.Run's error, 0 on success
// and -1 when the process did not produce one.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
