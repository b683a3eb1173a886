// Package runtime holds the run-local data model shared between the
// engine and every handler: stage status/outcome, the context store, and
// the checkpoint/final-outcome documents persisted to disk.
package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

type StageStatus string

const (
	StatusSuccess        StageStatus = "success"
	StatusPartialSuccess StageStatus = "partial_success"
	StatusRetry          StageStatus = "retry"
	StatusFail           StageStatus = "fail"
	StatusCancelled      StageStatus = "cancelled"
)

func ParseStageStatus(s string) (StageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok":
		return StatusSuccess, nil
	case "partial_success", "partialsuccess", "partial-success":
		return StatusPartialSuccess, nil
	case "retry":
		return StatusRetry, nil
	case "fail", "failure", "error":
		return StatusFail, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		// Custom outcome values are used by multi-way conditional routing
		// nodes (e.g. "process", "done"). Pass them through as-is; the
		// condition evaluator and edge selector treat them opaquely.
		normalized := strings.ToLower(strings.TrimSpace(s))
		if normalized == "" {
			return "", fmt.Errorf("invalid stage status: empty string")
		}
		return StageStatus(normalized), nil
	}
}

func (s StageStatus) Valid() bool {
	_, err := ParseStageStatus(string(s))
	return err == nil
}

// IsCanonical reports whether s is one of the five canonical status values
// rather than a custom routing value.
func (s StageStatus) IsCanonical() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusRetry, StatusFail, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsSuccessLike reports whether s satisfies a goal-gate / success-path
// edge-selection check.
func (s StageStatus) IsSuccessLike() bool {
	return s == StatusSuccess || s == StatusPartialSuccess
}

// FailureClass tags the structural reason behind a fail/retry outcome, per
// the error-handling design's taxonomy. Handlers set it; the engine and
// validator read it to decide retry eligibility and routing.
type FailureClass string

const (
	FailureEmptyResponse       FailureClass = "empty_response"
	FailureMissingStatusMarker FailureClass = "missing_status_marker"
	FailureToolResultSkipped   FailureClass = "tool_result_skipped"
	FailureLLMError            FailureClass = "llm_error"
	FailureExitNonzero         FailureClass = "exit_nonzero"
	FailureTimeout             FailureClass = "timeout"
	FailureStageError          FailureClass = "stage_error"
	FailureCancelled           FailureClass = "cancelled"
	FailureGoalGateUnmet       FailureClass = "goal_gate_unmet"
	FailureModelNotFound       FailureClass = "model_not_found"
	FailureTransientInfra      FailureClass = "transient_infra"
	FailureDeterministic       FailureClass = "deterministic"
)

// ToolFailure is the structured failure record a tool handler attaches to
// a fail outcome.
type ToolFailure struct {
	Command           string   `json:"command"`
	ExitCode          int      `json:"exit_code"`
	Signal            string   `json:"signal,omitempty"`
	DurationMS        int64    `json:"duration_ms"`
	FailureClass      string   `json:"failure_class"`
	Digest            string   `json:"digest,omitempty"`
	StderrTail        string   `json:"stderr_tail,omitempty"`
	StdoutTail        string   `json:"stdout_tail,omitempty"`
	FirstFailingCheck string   `json:"first_failing_check,omitempty"`
	ArtifactPaths     []string `json:"artifact_paths,omitempty"`
}

// Outcome is returned by every handler and drives context updates, usage
// accounting, and edge selection.
type Outcome struct {
	Status           StageStatus    `json:"status"`
	PreferredLabel   string         `json:"preferred_label,omitempty"`
	SuggestedNextIDs []string       `json:"suggested_next_ids,omitempty"`
	ContextUpdates   map[string]any `json:"context_updates,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	FailureClass     string         `json:"failure_class,omitempty"`
	ToolFailure      *ToolFailure   `json:"tool_failure,omitempty"`

	// Meta carries handler-specific metadata that never drives routing.
	Meta map[string]any `json:"meta,omitempty"`
}

func (o Outcome) Canonicalize() (Outcome, error) {
	st, err := ParseStageStatus(string(o.Status))
	if err != nil {
		return Outcome{}, err
	}
	o.Status = st
	if o.ContextUpdates == nil {
		o.ContextUpdates = map[string]any{}
	}
	if o.SuggestedNextIDs == nil {
		o.SuggestedNextIDs = []string{}
	}
	if o.Meta == nil {
		o.Meta = map[string]any{}
	}
	return o, nil
}

func (o Outcome) Validate() error {
	co, err := o.Canonicalize()
	if err != nil {
		return err
	}
	if (co.Status == StatusFail || co.Status == StatusRetry) && strings.TrimSpace(co.FailureReason) == "" {
		return fmt.Errorf("failure_reason must be non-empty when status=%q", co.Status)
	}
	return nil
}

// DecodeOutcomeJSON decodes a status.json document. Accepts both the
// canonical shape above and a legacy field-name variant, so status.json
// files written by a previous engine version still resume cleanly.
func DecodeOutcomeJSON(b []byte) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(b, &o); err == nil && o.Status != "" {
		co, err := o.Canonicalize()
		if err != nil {
			return co, err
		}
		// Promote the top-level failure tags into Meta as well.
		var tags struct {
			FailureSignature string `json:"failure_signature"`
		}
		_ = json.Unmarshal(b, &tags)
		if co.FailureClass != "" {
			co.Meta["failure_class"] = co.FailureClass
		}
		if tags.FailureSignature != "" {
			co.Meta["failure_signature"] = tags.FailureSignature
		}
		return co, nil
	}

	var legacy struct {
		Outcome            string         `json:"outcome"`
		PreferredNextLabel string         `json:"preferred_next_label"`
		SuggestedNextIDs   []string       `json:"suggested_next_ids"`
		ContextUpdates     map[string]any `json:"context_updates"`
		Notes              string         `json:"notes"`
		FailureReason      string         `json:"failure_reason"`
		Details            any            `json:"details"`
	}
	if err := json.Unmarshal(b, &legacy); err != nil {
		return Outcome{}, err
	}
	status := StageStatus(legacy.Outcome)
	o = Outcome{
		Status:           status,
		PreferredLabel:   legacy.PreferredNextLabel,
		SuggestedNextIDs: legacy.SuggestedNextIDs,
		ContextUpdates:   legacy.ContextUpdates,
		Notes:            legacy.Notes,
		FailureReason:    legacyFailureReason(status, legacy.FailureReason, legacy.Details, legacy.Notes),
	}
	return o.Canonicalize()
}

func legacyFailureReason(status StageStatus, failureReason string, details any, notes string) string {
	if fr := strings.TrimSpace(failureReason); fr != "" {
		return fr
	}
	st, err := ParseStageStatus(string(status))
	if err != nil || (st != StatusFail && st != StatusRetry) {
		return ""
	}
	if d := summarizeLegacyDetails(details); d != "" {
		return d
	}
	if n := strings.TrimSpace(notes); n != "" {
		return n
	}
	return "legacy fail outcome missing failure_reason"
}

func summarizeLegacyDetails(details any) string {
	switch v := details.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := summarizeLegacyDetails(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		for _, key := range []string{"failure_reason", "reason", "message", "error", "details"} {
			if s := strings.TrimSpace(fmt.Sprint(v[key])); s != "" && s != "<nil>" {
				return s
			}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return strings.TrimSpace(fmt.Sprint(v))
		}
		return strings.TrimSpace(string(b))
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "<nil>" {
			return ""
		}
		return s
	}
}
