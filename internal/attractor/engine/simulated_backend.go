package engine

import (
	"context"
	"strings"

	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// SimulatedCodergenBackend is a deterministic Backend test double: instead
// of calling out to a model it reads sim_status/sim_label/sim_next/
// sim_notes/sim_failure_class attrs off the node (set by a test fixture),
// so engine tests can exercise every Outcome shape without network access.
// This stands in for the concrete LLM adapter, which is out of scope here.
type SimulatedCodergenBackend struct {
	// Responses, when non-nil, overrides sim_* attrs: nodeID -> outcomes to
	// return in order across successive calls (e.g. a protocol-retry
	// fixture that fails once then succeeds).
	Responses map[string][]runtime.Outcome
	calls     map[string]int
}

func (b *SimulatedCodergenBackend) Run(ctx context.Context, n *model.Node, prompt string, rc *runtime.Context, opts BackendOptions) (runtime.Outcome, error) {
	if b.Responses != nil {
		if seq, ok := b.Responses[n.ID]; ok {
			if b.calls == nil {
				b.calls = map[string]int{}
			}
			i := b.calls[n.ID]
			b.calls[n.ID] = i + 1
			if i < len(seq) {
				return seq[i], nil
			}
			return seq[len(seq)-1], nil
		}
	}

	status, err := runtime.ParseStageStatus(n.Attr("sim_status", "success"))
	if err != nil {
		status = runtime.StatusSuccess
	}

	o := runtime.Outcome{
		Status:         status,
		PreferredLabel: n.Attr("sim_label", ""),
		Notes:          n.Attr("sim_notes", ""),
		ContextUpdates: map[string]any{
			n.ID + ".usage.input_tokens":       0,
			n.ID + ".usage.output_tokens":      0,
			n.ID + ".usage.cache_read_tokens":  0,
			n.ID + ".usage.cache_write_tokens": 0,
			n.ID + ".usage.total_tokens":       0,
			n.ID + ".usage.cost":               0.0,
			"_full_response":                   prompt,
		},
	}
	if next := strings.TrimSpace(n.Attr("sim_next", "")); next != "" {
		o.SuggestedNextIDs = strings.Split(next, ",")
	}
	if status == runtime.StatusFail || status == runtime.StatusRetry {
		o.FailureReason = n.Attr("sim_failure_reason", "simulated failure")
		o.FailureClass = n.Attr("sim_failure_class", string(runtime.FailureStageError))
	}
	return o, nil
}
