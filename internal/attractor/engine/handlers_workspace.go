package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// Context keys the workspace handlers read and write, matching the
// documented workspace.{name, path, base_commit, repo_root, tip_commit,
// merged, cleaned_up} schema. Unlike a hidden "_"-prefixed key, these stay
// visible in prompt/context-summary views so downstream stages can see
// workspace state.
const (
	workspaceKeyName         = "workspace.name"
	workspaceKeyPath         = "workspace.path"
	workspaceKeyBaseCommit   = "workspace.base_commit"
	workspaceKeyRepoRoot     = "workspace.repo_root"
	workspaceKeyTipCommit    = "workspace.tip_commit"
	workspaceKeyMerged       = "workspace.merged"
	workspaceKeyMergedCommit = "workspace.merged_commit"
	workspaceKeyCleanedUp    = "workspace.cleaned_up"
)

// WorkspaceCreateHandler implements the house-shaped stage: it creates a
// fresh jj workspace for the run (or for a sub-branch of work within the
// run) at ws-<name> beside the repository root (repo_root, defaulting to
// the run's worktree directory).
type WorkspaceCreateHandler struct {
	Jj JjRunner
}

func (h *WorkspaceCreateHandler) SkipRetry() bool { return true }

func (h *WorkspaceCreateHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	if h.Jj == nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no jj runner configured", FailureClass: string(runtime.FailureStageError)}, nil
	}
	name := ex.Node.Attr("workspace_name", ex.Node.ID)
	repoRoot := ex.Node.Attr("repo_root", ex.WorktreeDir)
	path := filepath.Join(filepath.Dir(repoRoot), "ws-"+name)

	if _, err := h.Jj.Run(ctx, []string{"workspace", "add", "--name", name, path}, repoRoot); err != nil {
		return runtime.Outcome{
			Status: runtime.StatusFail, FailureReason: err.Error(), FailureClass: string(runtime.FailureStageError),
		}, nil
	}

	baseCommit := ""
	if out, err := h.Jj.Run(ctx, []string{"log", "-r", "@", "--no-graph", "-T", "commit_id"}, path); err == nil {
		baseCommit = strings.TrimSpace(out)
	}

	if ex.LogsDir != "" {
		_ = os.MkdirAll(ex.LogsDir, 0o755)
		doc := map[string]any{"workspace_name": name, "path": path, "base_commit": baseCommit}
		if b, err := json.MarshalIndent(doc, "", "  "); err == nil {
			_ = os.WriteFile(filepath.Join(ex.LogsDir, "workspace.json"), b, 0o644)
		}
	}

	return runtime.Outcome{
		Status: runtime.StatusSuccess,
		ContextUpdates: map[string]any{
			workspaceKeyName:       name,
			workspaceKeyPath:       path,
			workspaceKeyRepoRoot:   repoRoot,
			workspaceKeyBaseCommit: baseCommit,
			workspaceKeyTipCommit:  baseCommit,
			workspaceKeyMerged:     false,
			workspaceKeyCleanedUp:  false,
		},
	}, nil
}

// WorkspaceMergeHandler implements the invhouse-shaped stage: it rebases a
// workspace's change onto the run's trunk and then moves the trunk
// bookmark to the rebased commit. No separate ancestry check is made.
type WorkspaceMergeHandler struct {
	Jj JjRunner
}

func (h *WorkspaceMergeHandler) SkipRetry() bool { return true }

func (h *WorkspaceMergeHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	if h.Jj == nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no jj runner configured", FailureClass: string(runtime.FailureStageError)}, nil
	}
	name := ex.Node.Attr("workspace_name", rc.GetString(workspaceKeyName, ""))
	if name == "" {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "workspace_merge missing workspace_name", FailureClass: string(runtime.FailureStageError)}, nil
	}
	path := rc.GetString(workspaceKeyPath, "")
	if path == "" {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: fmt.Sprintf("unknown workspace %q", name), FailureClass: string(runtime.FailureStageError)}, nil
	}
	trunk := ex.Node.Attr("trunk_bookmark", "main")
	repoRoot := ex.Node.Attr("repo_root", ex.WorktreeDir)

	if _, err := h.Jj.Run(ctx, []string{"rebase", "-d", trunk}, path); err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error(), FailureClass: string(runtime.FailureStageError)}, nil
	}
	out, err := h.Jj.Run(ctx, []string{"log", "-r", "@", "--no-graph", "-T", "commit_id"}, path)
	if err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error(), FailureClass: string(runtime.FailureStageError)}, nil
	}
	commit := strings.TrimSpace(out)

	if _, err := h.Jj.Run(ctx, []string{"bookmark", "set", trunk, "-r", commit}, repoRoot); err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error(), FailureClass: string(runtime.FailureStageError)}, nil
	}

	return runtime.Outcome{
		Status: runtime.StatusSuccess,
		ContextUpdates: map[string]any{
			workspaceKeyMergedCommit: commit,
			workspaceKeyMerged:       true,
		},
	}, nil
}

// WorkspaceCleanupHandler drops a workspace's registration once its work
// has been merged or abandoned. It runs whenever the graph routes to a
// cleanup node; the engine itself never invokes it, on failure or on
// cancellation.
type WorkspaceCleanupHandler struct {
	Jj JjRunner
}

func (h *WorkspaceCleanupHandler) SkipRetry() bool { return true }

func (h *WorkspaceCleanupHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	if h.Jj == nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "no jj runner configured", FailureClass: string(runtime.FailureStageError)}, nil
	}
	name := ex.Node.Attr("workspace_name", rc.GetString(workspaceKeyName, ""))
	if name == "" {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "workspace_cleanup missing workspace_name", FailureClass: string(runtime.FailureStageError)}, nil
	}
	repoRoot := ex.Node.Attr("repo_root", rc.GetString(workspaceKeyRepoRoot, ex.WorktreeDir))
	if _, err := h.Jj.Run(ctx, []string{"workspace", "forget", name}, repoRoot); err != nil {
		return runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error(), FailureClass: string(runtime.FailureStageError)}, nil
	}
	return runtime.Outcome{
		Status:         runtime.StatusSuccess,
		ContextUpdates: map[string]any{workspaceKeyCleanedUp: true},
	}, nil
}
