package engine

import (
	"context"
	"testing"

	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// newGraph/addNode/addEdge build a model.Graph directly rather than through
// a DOT parser, since this module's loader lives at the graphdoc layer, one
// level above the engine.

func newGraph(name string) *model.Graph {
	return model.NewGraph(name)
}

func addNode(t *testing.T, g *model.Graph, id string, attrs map[string]string) {
	t.Helper()
	n := model.NewNode(id)
	for k, v := range attrs {
		n.Attrs[k] = v
	}
	if err := g.AddNode(n); err != nil {
		t.Fatalf("add node %s: %v", id, err)
	}
}

func addEdge(t *testing.T, g *model.Graph, from, to string, attrs map[string]string) {
	t.Helper()
	e := model.NewEdge(from, to)
	for k, v := range attrs {
		e.Attrs[k] = v
	}
	if err := g.AddEdge(e); err != nil {
		t.Fatalf("add edge %s->%s: %v", from, to, err)
	}
}

// collectingSink returns an EventSink that appends every emitted Event to
// the slice behind the returned pointer, and the slice pointer itself so a
// test can inspect it after Run returns.
func collectingSink() (*[]Event, EventSink) {
	events := &[]Event{}
	return events, EventSinkFunc(func(e Event) { *events = append(*events, e) })
}

func contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func countEvents(events []Event, kind EventKind, nodeID string) int {
	n := 0
	for _, e := range events {
		if e.Kind != kind {
			continue
		}
		if nodeID == "" {
			n++
			continue
		}
		if id, _ := e.Data["node_id"].(string); id == nodeID {
			n++
		}
	}
	return n
}

// countingBackend wraps another Backend and counts how many times Run was
// actually invoked, so a test can assert on the number of LLM calls
// independent of how many engine-level retries or handler-internal
// protocol-retries occurred.
type countingBackend struct {
	inner Backend
	calls int
}

func (c *countingBackend) Run(ctx context.Context, n *model.Node, prompt string, rc *runtime.Context, opts BackendOptions) (runtime.Outcome, error) {
	c.calls++
	return c.inner.Run(ctx, n, prompt, rc, opts)
}

// fakeJjCall records one invocation of fakeJj.Run for assertions.
type fakeJjCall struct {
	cwd  string
	args []string
}

// fakeJj is a deterministic JjRunner test double: every "log -r @ ..."
// invocation returns a fixed tip commit id, every other invocation just
// records its args/cwd and returns empty output.
type fakeJj struct {
	tip   string
	calls []fakeJjCall
}

func (f *fakeJj) Run(ctx context.Context, args []string, cwd string) (string, error) {
	recorded := append([]string{}, args...)
	f.calls = append(f.calls, fakeJjCall{cwd: cwd, args: recorded})
	if len(args) >= 1 && args[0] == "log" {
		return f.tip, nil
	}
	return "", nil
}

func (f *fakeJj) hasCall(args ...string) bool {
	for _, c := range f.calls {
		if len(c.args) != len(args) {
			continue
		}
		match := true
		for i := range args {
			if c.args[i] != args[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// queueInterviewer returns queued answers in order, one per Ask call.
type queueInterviewer struct {
	answers []Answer
	i       int
}

func (q *queueInterviewer) Ask(ctx context.Context, _ Question) (Answer, error) {
	a := q.answers[q.i]
	q.i++
	return a, nil
}
