package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

const toolOutputTruncateLimit = 8000

// ToolRunner executes a shell command in a working directory and reports
// its result. The default implementation shells out via exec.CommandContext;
// tests substitute a fake to avoid touching the filesystem or a real shell.
type ToolRunner interface {
	Run(ctx context.Context, command, dir string) (ToolResult, error)
}

// ToolResult is what a ToolRunner reports back, independent of how it ran
// the command.
type ToolResult struct {
	ExitCode int
	Signal   string
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// ShellToolRunner runs command via `bash -c` in dir.
type ShellToolRunner struct{}

func (ShellToolRunner) Run(ctx context.Context, command, dir string) (ToolResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := ToolResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if ctx.Err() != nil {
		res.TimedOut = true
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(interface{ Signaled() bool }); ok && status.Signaled() {
				res.Signal = exitErr.String()
			}
			return res, nil
		}
		if res.TimedOut {
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// ToolHandler implements the parallelogram-shaped tool stage: it reads
// tool_command (and an optional timeout attr, seconds), runs it against the
// run's worktree, and persists stdout.log, stderr.log and meta.json
// artifacts in the attempt directory. It writes no prompt.md or response.md.
type ToolHandler struct {
	Runner ToolRunner
}

func (h *ToolHandler) UsesFidelity() bool { return false }

func (h *ToolHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	command := strings.TrimSpace(ex.Node.Attr("tool_command", ""))
	if command == "" {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: "tool node missing tool_command",
			FailureClass:  string(runtime.FailureStageError),
		}, nil
	}

	runner := h.Runner
	if runner == nil {
		runner = ShellToolRunner{}
	}

	timeout := 300 * time.Second
	if raw := strings.TrimSpace(ex.Node.Attr("timeout", "")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := ex.WorktreeDir
	res, runErr := runner.Run(cctx, command, dir)

	if ex.LogsDir != "" {
		_ = os.MkdirAll(ex.LogsDir, 0o755)
		_ = os.WriteFile(filepath.Join(ex.LogsDir, "stdout.log"), []byte(res.Stdout), 0o644)
		_ = os.WriteFile(filepath.Join(ex.LogsDir, "stderr.log"), []byte(res.Stderr), 0o644)
		meta := map[string]any{
			"command":     command,
			"exit_code":   res.ExitCode,
			"signal":      res.Signal,
			"duration_ms": res.Duration.Milliseconds(),
			"timed_out":   res.TimedOut,
		}
		if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
			_ = os.WriteFile(filepath.Join(ex.LogsDir, "meta.json"), b, 0o644)
		}
	}

	key := ex.Node.ID
	updates := map[string]any{
		key + ".tool.output":    truncateTail(res.Stdout, toolOutputTruncateLimit),
		key + ".tool.exit_code": res.ExitCode,
	}

	if runErr != nil {
		return runtime.Outcome{
			Status:         runtime.StatusFail,
			FailureReason:  runErr.Error(),
			FailureClass:   string(runtime.FailureStageError),
			ContextUpdates: updates,
		}, nil
	}

	if res.TimedOut {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("tool command timed out after %s", timeout),
			FailureClass:  string(runtime.FailureTimeout),
			ToolFailure: &runtime.ToolFailure{
				Command: command, ExitCode: res.ExitCode, DurationMS: res.Duration.Milliseconds(),
				FailureClass: string(runtime.FailureTimeout), StderrTail: truncateTail(res.Stderr, 2000),
			},
			ContextUpdates: updates,
		}, nil
	}

	if res.ExitCode != 0 {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("tool command exited %d", res.ExitCode),
			FailureClass:  string(runtime.FailureExitNonzero),
			ToolFailure: &runtime.ToolFailure{
				Command: command, ExitCode: res.ExitCode, Signal: res.Signal, DurationMS: res.Duration.Milliseconds(),
				FailureClass: string(runtime.FailureExitNonzero),
				StderrTail:   truncateTail(res.Stderr, 2000), StdoutTail: truncateTail(res.Stdout, 2000),
			},
			ContextUpdates: updates,
		}, nil
	}

	return runtime.Outcome{Status: runtime.StatusSuccess, ContextUpdates: updates}, nil
}

func truncateTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "…(truncated)…" + s[len(s)-limit:]
}
