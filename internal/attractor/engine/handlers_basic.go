package engine

import (
	"context"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// StartHandler is the entry node: it does nothing but succeed, so the main
// loop can treat "run the start node" and "run any other node" identically.
type StartHandler struct{}

func (h *StartHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

func (h *StartHandler) SkipRetry() bool { return true }

// ExitHandler is the terminal node. Reaching it ends the run; the engine
// checks goal gates before treating the run as complete, not this handler.
type ExitHandler struct{}

func (h *ExitHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

func (h *ExitHandler) SkipRetry() bool { return true }

// ConditionalHandler is a pure routing node (shape=diamond): it never
// executes a prompt or tool and always returns a plain success outcome.
// The upstream stage's outcome, preferred label and suggested next ids are
// not forwarded, so conditions on the gate's outgoing edges are evaluated
// against that success outcome and the run context.
// The engine always emits stage_completed for a conditional node, never
// stage_failed, since this handler has no failure mode of its own.
type ConditionalHandler struct{}

func (h *ConditionalHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

func (h *ConditionalHandler) SkipRetry() bool { return true }
