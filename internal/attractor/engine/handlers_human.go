package engine

import (
	"context"
	"strings"

	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// WaitHumanHandler implements the hexagon-shaped human gate: it composes a
// Question from the node's outgoing edges (one Option per labeled edge),
// asks the Interviewer, and turns the Answer into routing hints on the
// returned Outcome (PreferredLabel / SuggestedNextIDs) rather than picking
// the next node itself — edge selection is the engine's job.
type WaitHumanHandler struct {
	Interviewer Interviewer
}

func (h *WaitHumanHandler) SkipRetry() bool { return true }

func (h *WaitHumanHandler) Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error) {
	if h.Interviewer == nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: "no interviewer configured for human gate",
			FailureClass:  string(runtime.FailureStageError),
		}, nil
	}

	text := ex.Node.Prompt()
	if text == "" {
		text = ex.Node.Attr("label", ex.Node.ID)
	}

	var options []Option
	for _, e := range ex.Graph.Outgoing(ex.Node.ID) {
		if e == nil {
			continue
		}
		label := e.Label()
		if label == "" {
			continue
		}
		options = append(options, Option{Key: acceleratorKey(label), Label: label, To: e.To})
	}

	qType := QuestionConfirmation
	if len(options) > 2 {
		qType = QuestionMultipleChoice
	} else if len(options) == 0 {
		qType = QuestionFreeform
	}

	q := Question{Text: text, Type: qType, Options: options, Stage: ex.Node.ID}

	ans, err := h.Interviewer.Ask(ctx, q)
	if err != nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: err.Error(),
			FailureClass:  string(runtime.FailureStageError),
		}, nil
	}

	updates := map[string]any{
		ex.Node.ID + ".human_answer": ans.Value,
	}
	if ans.Text != "" {
		updates[ex.Node.ID+".human_text"] = ans.Text
	}

	outcome := runtime.Outcome{Status: runtime.StatusSuccess, ContextUpdates: updates}
	if ans.SelectedOption != nil {
		outcome.PreferredLabel = ans.SelectedOption.Label
		if ans.SelectedOption.To != "" {
			outcome.SuggestedNextIDs = []string{ans.SelectedOption.To}
		}
	} else if ans.Value != "" {
		for _, opt := range options {
			if strings.EqualFold(opt.Key, ans.Value) || normalizeLabel(opt.Label) == strings.ToLower(ans.Value) {
				outcome.PreferredLabel = opt.Label
				if opt.To != "" {
					outcome.SuggestedNextIDs = []string{opt.To}
				}
				break
			}
		}
	}
	return outcome, nil
}
