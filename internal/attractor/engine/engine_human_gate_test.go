package engine

import (
	"context"
	"testing"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// TestRun_HumanGateReReview exercises §4.6.4's re-review wiring end to end:
// picking the non-approve branch at a human gate runs that revision node
// once, then redirects control back to the gate instead of letting it fall
// through to exit; picking approve on the second pass completes normally.
func TestRun_HumanGateReReview(t *testing.T) {
	g := newGraph("rereview")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "gate", map[string]string{"shape": "hexagon"})
	addNode(t, g, "approve", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "fix", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "gate", nil)
	addEdge(t, g, "gate", "approve", map[string]string{"label": "Approve"})
	addEdge(t, g, "gate", "fix", map[string]string{"label": "Fix"})
	addEdge(t, g, "approve", "exit", nil)
	addEdge(t, g, "fix", "exit", nil)

	interviewer := &queueInterviewer{answers: []Answer{{Value: "fix"}, {Value: "approve"}}}
	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, interviewer, nil, nil)

	eng := NewEngine(EventSinkFunc(func(Event) {}))
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "rereview", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != runtime.FinalSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}

	gateCount := 0
	for _, id := range result.CompletedNodes {
		if id == "gate" {
			gateCount++
		}
	}
	if gateCount != 2 {
		t.Fatalf("gate ran %d times in %v, want 2 (initial pass + re-review)", gateCount, result.CompletedNodes)
	}
	if !contains(result.CompletedNodes, "fix") {
		t.Fatalf("completed_nodes = %v, want fix to have run", result.CompletedNodes)
	}
	if !contains(result.CompletedNodes, "approve") {
		t.Fatalf("completed_nodes = %v, want approve to have run on the second pass", result.CompletedNodes)
	}
}

// TestRun_HumanGateApproveFirstTimeNeverRedirects guards against a gate
// being armed even when the very first answer is approve: no redirect
// should ever fire, and the gate should run exactly once.
func TestRun_HumanGateApproveFirstTimeNeverRedirects(t *testing.T) {
	g := newGraph("approve-once")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "gate", map[string]string{"shape": "hexagon"})
	addNode(t, g, "approve", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "fix", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "gate", nil)
	addEdge(t, g, "gate", "approve", map[string]string{"label": "Approve"})
	addEdge(t, g, "gate", "fix", map[string]string{"label": "Fix"})
	addEdge(t, g, "approve", "exit", nil)
	addEdge(t, g, "fix", "exit", nil)

	interviewer := &queueInterviewer{answers: []Answer{{Value: "approve"}}}
	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, interviewer, nil, nil)

	eng := NewEngine(EventSinkFunc(func(Event) {}))
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "approve-once", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"start", "gate", "approve", "exit"}
	if len(result.CompletedNodes) != len(want) {
		t.Fatalf("completed_nodes = %v, want %v", result.CompletedNodes, want)
	}
	for i, id := range want {
		if result.CompletedNodes[i] != id {
			t.Fatalf("completed_nodes = %v, want %v", result.CompletedNodes, want)
		}
	}
}
