package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// TestRun_LoopRestartSnapshotsCheckpoint covers the supplemented
// loop_restart behavior: traversing a loop_restart edge snapshots the
// pre-restart checkpoint under <logsRoot>/restart-<n>/ before
// completed_nodes and node_retries are cleared.
func TestRun_LoopRestartSnapshotsCheckpoint(t *testing.T) {
	g := newGraph("restart")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", map[string]string{"loop_restart": "true"})

	logsRoot := t.TempDir()
	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, nil, nil)
	eng := NewEngine(EventSinkFunc(func(Event) {}))
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "restart", LogsRoot: logsRoot,
		Backoff: DefaultBackoffConfig(), Registry: registry,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != runtime.FinalSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}
	if result.RestartCount != 1 {
		t.Fatalf("restart_count = %d, want 1", result.RestartCount)
	}
	if len(result.CompletedNodes) != 1 || result.CompletedNodes[0] != "exit" {
		t.Fatalf("completed_nodes = %v, want [exit] (reset by the restart)", result.CompletedNodes)
	}

	snapPath := filepath.Join(logsRoot, "restart-1", "checkpoint.json")
	snap, err := runtime.LoadCheckpoint(snapPath)
	if err != nil {
		t.Fatalf("load restart snapshot: %v", err)
	}
	if snap.CurrentNode != "work" {
		t.Fatalf("snapshot current_node = %q, want %q", snap.CurrentNode, "work")
	}
	want := []string{"start", "work"}
	if len(snap.CompletedNodes) != len(want) {
		t.Fatalf("snapshot completed_nodes = %v, want %v (pre-restart state)", snap.CompletedNodes, want)
	}
	for i, id := range want {
		if snap.CompletedNodes[i] != id {
			t.Fatalf("snapshot completed_nodes = %v, want %v (pre-restart state)", snap.CompletedNodes, want)
		}
	}
}
