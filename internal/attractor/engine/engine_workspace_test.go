package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// TestRun_CapturesWorkspaceTipAfterEachStage covers §4.6.3 step 6: once a
// run has a jj workspace, the engine records its tip commit into context
// after every completed stage, not just at workspace creation.
func TestRun_CapturesWorkspaceTipAfterEachStage(t *testing.T) {
	jj := &fakeJj{tip: "tip-after-work"}
	repoRoot := t.TempDir()

	g := newGraph("tip")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "ws", map[string]string{"shape": "house", "workspace_name": "feature", "repo_root": repoRoot})
	addNode(t, g, "work", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "ws", nil)
	addEdge(t, g, "ws", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, jj, nil)
	eng := NewEngine(EventSinkFunc(func(Event) {}))
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "tip", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry, Jj: jj,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != runtime.FinalSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}
	got, ok := eng.Context().Get("workspace.tip_commit")
	if !ok || got != "tip-after-work" {
		t.Fatalf("workspace.tip_commit = %v (ok=%v), want %q", got, ok, "tip-after-work")
	}
}

// TestRun_ResumeRecoversMissingWorkspace covers §4.6.2: if the checkpoint's
// workspace.path is no longer present on disk at resume time, the engine
// re-adds the workspace and edits it back to the captured tip commit before
// continuing.
func TestRun_ResumeRecoversMissingWorkspace(t *testing.T) {
	repoRoot := t.TempDir()
	wsPath := filepath.Join(repoRoot, "ws-feature")
	if _, err := os.Stat(wsPath); err == nil {
		t.Fatalf("precondition: %s must not exist", wsPath)
	}

	ctx := runtime.NewContext()
	ctx.Set("workspace.name", "feature")
	ctx.Set("workspace.repo_root", repoRoot)
	ctx.Set("workspace.path", wsPath)
	ctx.Set("workspace.tip_commit", "old-tip")
	cp := runtime.NewCheckpoint("work", "", []string{"start", "ws"}, map[string]int{}, ctx)

	g := newGraph("recover")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "ws", map[string]string{"shape": "house", "workspace_name": "feature", "repo_root": repoRoot})
	addNode(t, g, "work", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "ws", nil)
	addEdge(t, g, "ws", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	jj := &fakeJj{tip: "new-tip"}
	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, jj, nil)
	eng := NewEngine(EventSinkFunc(func(Event) {}))
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "recover", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry, Jj: jj, ResumeFrom: cp,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != runtime.FinalSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}
	if !jj.hasCall("workspace", "forget", "feature") {
		t.Fatalf("jj calls = %+v, want a workspace forget feature call", jj.calls)
	}
	if !jj.hasCall("workspace", "add", "--name", "feature", wsPath) {
		t.Fatalf("jj calls = %+v, want a workspace add --name feature call", jj.calls)
	}
	if !jj.hasCall("edit", "old-tip") {
		t.Fatalf("jj calls = %+v, want an edit old-tip call restoring the captured tip", jj.calls)
	}
}
