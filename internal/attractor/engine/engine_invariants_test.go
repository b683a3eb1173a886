package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// TestRun_RetryBudgetIsMaxRetriesPlusOne covers invariant I4: a node that
// always fails is attempted exactly max_retries+1 times, no more.
func TestRun_RetryBudgetIsMaxRetriesPlusOne(t *testing.T) {
	g := newGraph("budget")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{
		"shape": "box", "llm_provider": "simulated",
		"sim_status": "fail", "sim_failure_class": "stage_error", "sim_failure_reason": "nope",
	})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	backend := &countingBackend{inner: &SimulatedCodergenBackend{}}
	registry := NewDefaultRegistry(backend, nil, nil, nil)

	_, sink := collectingSink()
	eng := NewEngine(sink)
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "budget", LogsRoot: t.TempDir(), MaxRetries: 2,
		Backoff:  BackoffConfig{Base: time.Millisecond, Max: 10 * time.Millisecond, Jitter: false},
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if backend.calls != 3 {
		t.Fatalf("backend.calls = %d, want max_retries+1 = 3", backend.calls)
	}
	if result.Status != runtime.FinalFail {
		t.Fatalf("status = %v, want fail", result.Status)
	}
}

// TestRun_MaxRetriesZeroSkipsRetryingEvent covers the §8.3 boundary: a
// max_retries=0 node that fails gets no stage_retrying event at all.
func TestRun_MaxRetriesZeroSkipsRetryingEvent(t *testing.T) {
	g := newGraph("zero")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{
		"shape": "box", "llm_provider": "simulated",
		"sim_status": "fail", "sim_failure_class": "stage_error", "sim_failure_reason": "nope", "max_retries": "0",
	})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, nil, nil)
	events, sink := collectingSink()
	eng := NewEngine(sink)
	if _, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "zero", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := countEvents(*events, EventStageRetrying, "work"); n != 0 {
		t.Fatalf("stage_retrying(work) count = %d, want 0", n)
	}
}

// TestRun_UsageNeverDoubleCounted covers invariant I5: usage attributed to
// an attempt is exactly what that attempt's context_updates carried, summed
// once across attempts, never inflated by earlier attempts.
func TestRun_UsageNeverDoubleCounted(t *testing.T) {
	g := newGraph("usage")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{"shape": "box", "llm_provider": "simulated"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	backend := &SimulatedCodergenBackend{Responses: map[string][]runtime.Outcome{
		"work": {
			{Status: runtime.StatusFail, FailureClass: string(runtime.FailureStageError), FailureReason: "one",
				ContextUpdates: map[string]any{"work.usage.total_tokens": 10.0}},
			{Status: runtime.StatusFail, FailureClass: string(runtime.FailureStageError), FailureReason: "two",
				ContextUpdates: map[string]any{"work.usage.total_tokens": 20.0}},
			{Status: runtime.StatusSuccess,
				ContextUpdates: map[string]any{"work.usage.total_tokens": 30.0}},
		},
	}}
	registry := NewDefaultRegistry(backend, nil, nil, nil)

	_, sink := collectingSink()
	eng := NewEngine(sink)
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "usage", LogsRoot: t.TempDir(), MaxRetries: 2,
		Backoff:  BackoffConfig{Base: time.Millisecond, Max: 10 * time.Millisecond, Jitter: false},
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != runtime.FinalSuccess {
		t.Fatalf("status = %v, want success", result.Status)
	}
	if got := result.Usage.Totals["total_tokens"]; got != 60.0 {
		t.Fatalf("usage total_tokens = %v, want 60 (10+20+30, no double count)", got)
	}
	if len(result.Usage.Entries) != 3 {
		t.Fatalf("usage entries = %d, want 3 (one per attempt)", len(result.Usage.Entries))
	}
}

// TestRun_NoSilentFailure covers invariant I6: when a non-conditional node
// fails and its only outgoing edge is unconditional to a non-routing node,
// the run ends in pipeline_failed rather than silently routing onward.
func TestRun_NoSilentFailure(t *testing.T) {
	g := newGraph("silent")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{
		"shape": "box", "llm_provider": "simulated",
		"sim_status": "fail", "sim_failure_class": "stage_error", "sim_failure_reason": "boom",
	})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	events, sink := collectingSink()
	eng := NewEngine(sink)
	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, nil, nil)
	result, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "silent", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != runtime.FinalFail {
		t.Fatalf("status = %v, want fail", result.Status)
	}
	if contains(result.CompletedNodes, "exit") {
		t.Fatalf("completed_nodes = %v, exit must never be reached on a silent failure", result.CompletedNodes)
	}
	if n := countEvents(*events, EventPipelineFailed, ""); n != 1 {
		t.Fatalf("pipeline_failed count = %d, want 1", n)
	}
}

// TestRun_ResumeFromFinalCheckpointIsNoOp covers round-trip R1: resuming
// from a completed run's final checkpoint reproduces the same result
// without duplicating any completed node.
func TestRun_ResumeFromFinalCheckpointIsNoOp(t *testing.T) {
	g := newGraph("roundtrip")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{"shape": "box", "llm_provider": "simulated", "sim_status": "success"})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	logsRoot := t.TempDir()
	registry := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, nil, nil)
	_, sink := collectingSink()
	eng := NewEngine(sink)
	first, err := eng.Run(context.Background(), RunOptions{
		Graph: g, RunID: "r1", LogsRoot: logsRoot,
		Backoff: DefaultBackoffConfig(), Registry: registry,
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	cp, err := runtime.LoadCheckpoint(filepath.Join(logsRoot, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}

	eng2 := NewEngine(EventSinkFunc(func(Event) {}))
	second, err := eng2.Run(context.Background(), RunOptions{
		Graph: g, RunID: "r1", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry, ResumeFrom: cp,
	})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if second.Status != runtime.FinalSuccess {
		t.Fatalf("resumed status = %v, want success", second.Status)
	}
	if len(second.CompletedNodes) != len(first.CompletedNodes) {
		t.Fatalf("resumed completed_nodes = %v, want unchanged from %v", second.CompletedNodes, first.CompletedNodes)
	}
	for i := range first.CompletedNodes {
		if first.CompletedNodes[i] != second.CompletedNodes[i] {
			t.Fatalf("resumed completed_nodes = %v, want %v", second.CompletedNodes, first.CompletedNodes)
		}
	}
}

// TestRun_CancelThenResumeReexecutesStageOnce covers round-trip R2:
// cancelling mid-backoff on a stage and resuming re-executes that stage
// exactly once (via a fresh backend) before the run advances to exit.
func TestRun_CancelThenResumeReexecutesStageOnce(t *testing.T) {
	g := newGraph("resume")
	addNode(t, g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(t, g, "work", map[string]string{
		"shape": "box", "llm_provider": "simulated",
		"sim_status": "fail", "sim_failure_class": "stage_error", "sim_failure_reason": "nope",
	})
	addNode(t, g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(t, g, "start", "work", nil)
	addEdge(t, g, "work", "exit", nil)

	logsRoot := t.TempDir()
	registry1 := NewDefaultRegistry(&SimulatedCodergenBackend{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	eng := NewEngine(EventSinkFunc(func(Event) {}))
	first, err := eng.Run(ctx, RunOptions{
		Graph: g, RunID: "resume", LogsRoot: logsRoot, MaxRetries: 5,
		Backoff:  BackoffConfig{Base: 2 * time.Second, Max: 10 * time.Second, Jitter: false},
		Registry: registry1,
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Status != runtime.FinalFail || first.FailureClass != string(runtime.FailureCancelled) {
		t.Fatalf("first run status/class = %v/%v, want fail/cancelled", first.Status, first.FailureClass)
	}

	cp, err := runtime.LoadCheckpoint(filepath.Join(logsRoot, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}

	backend2 := &countingBackend{inner: &SimulatedCodergenBackend{Responses: map[string][]runtime.Outcome{
		"work": {{Status: runtime.StatusSuccess, ContextUpdates: map[string]any{}}},
	}}}
	registry2 := NewDefaultRegistry(backend2, nil, nil, nil)

	eng2 := NewEngine(EventSinkFunc(func(Event) {}))
	second, err := eng2.Run(context.Background(), RunOptions{
		Graph: g, RunID: "resume", LogsRoot: t.TempDir(),
		Backoff: DefaultBackoffConfig(), Registry: registry2, ResumeFrom: cp,
	})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if backend2.calls != 1 {
		t.Fatalf("resumed backend.calls = %d, want exactly 1", backend2.calls)
	}
	if second.Status != runtime.FinalSuccess {
		t.Fatalf("resumed status = %v, want success", second.Status)
	}
	want := []string{"start", "work", "exit"}
	if len(second.CompletedNodes) != len(want) {
		t.Fatalf("resumed completed_nodes = %v, want %v", second.CompletedNodes, want)
	}
}
