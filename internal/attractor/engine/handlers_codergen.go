package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// CodergenHandler implements the box-shaped LLM stage. It composes the
// node's prompt, invokes Backend.Run, and persists the prompt/response
// pair as artifacts. The status-marker protocol itself (parsing
// "[STATUS: ...]" etc, and the completion-latch) is the concrete Backend's
// responsibility per its contract; this handler only owns the bounded
// protocol-retry: if the first call comes back empty_response or
// missing_status_marker and no mutating tool ran, it retries exactly once.
type CodergenHandler struct {
	Backend Backend
}

// UsesFidelity reports true, but Execute does not read the node's fidelity
// attribute: it always sends the full prompt.
func (h *CodergenHandler) UsesFidelity() bool { return true }

func (h *CodergenHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	if h.Backend == nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: "no backend configured for codergen node",
			FailureClass:  string(runtime.FailureStageError),
		}, nil
	}

	prompt := ex.Node.Prompt()
	if prompt == "" {
		prompt = ex.Node.Attr("label", ex.Node.ID)
	}

	opts := BackendOptions{
		Model:           ex.Node.Attr("llm_model", ""),
		Provider:        ex.Node.Attr("llm_provider", ""),
		ReasoningEffort: ex.Node.Attr("reasoning_effort", ""),
		ToolMode:        ex.Node.Attr("tool_mode", ""),
		CancelToken:     ctx,
	}

	if ex.LogsDir != "" {
		_ = os.MkdirAll(ex.LogsDir, 0o755)
		_ = os.WriteFile(filepath.Join(ex.LogsDir, "prompt.md"), []byte(prompt), 0o644)
	}

	outcome, err := h.Backend.Run(ctx, ex.Node, prompt, rc, opts)
	if err != nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: err.Error(),
			FailureClass:  string(runtime.FailureLLMError),
		}, nil
	}

	if needsProtocolRetry(outcome) && !mutatingToolRan(outcome) {
		rc.AppendLog(fmt.Sprintf("%s: protocol retry after %s", ex.Node.ID, outcome.FailureClass))
		retryOutcome, retryErr := h.Backend.Run(ctx, ex.Node, prompt, rc, opts)
		if retryErr == nil {
			outcome = retryOutcome
		}
	}

	if ex.LogsDir != "" {
		_ = os.WriteFile(filepath.Join(ex.LogsDir, "response.md"), []byte(responseText(ex.Node.ID, outcome)), 0o644)
	}

	return outcome, nil
}

func needsProtocolRetry(o runtime.Outcome) bool {
	return o.Status == runtime.StatusFail &&
		(o.FailureClass == string(runtime.FailureEmptyResponse) || o.FailureClass == string(runtime.FailureMissingStatusMarker))
}

func mutatingToolRan(o runtime.Outcome) bool {
	v, ok := o.ContextUpdates["_tool_mutated"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// responseText prefers the backend's "<nodeID>._full_response" key, then a
// bare "_full_response" key, then the outcome's notes.
func responseText(nodeID string, o runtime.Outcome) string {
	for _, key := range []string{nodeID + "._full_response", "_full_response"} {
		if s, ok := o.ContextUpdates[key].(string); ok {
			return s
		}
	}
	return o.Notes
}

