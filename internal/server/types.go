package server

import (
	"encoding/json"
	"time"
)

// SubmitPipelineRequest is the POST /pipelines request body.
type SubmitPipelineRequest struct {
	// GraphPath is a filesystem path to the graph document (JSON or YAML,
	// see graphdoc.Load). Exactly one of GraphPath or GraphDoc must be set.
	GraphPath string `json:"graph_path,omitempty"`

	// GraphDoc is the pipeline graph inline, in the same JSON shape
	// graphdoc.Load reads from disk.
	GraphDoc json.RawMessage `json:"graph_doc,omitempty"`

	// RunID is optional. If empty, a ULID is generated.
	RunID string `json:"run_id,omitempty"`

	// Goal seeds the run's graph.goal context value.
	Goal string `json:"goal,omitempty"`

	// MaxRetries overrides the engine's default per-node retry budget.
	MaxRetries int `json:"max_retries,omitempty"`

	// WorktreeDir is the jj workspace checkout this run operates against.
	WorktreeDir string `json:"worktree_dir,omitempty"`
}

// PipelineStatus is returned by GET /pipelines/{id}.
type PipelineStatus struct {
	RunID         string     `json:"run_id"`
	State         string     `json:"state"`
	CurrentNodeID string     `json:"current_node_id,omitempty"`
	LastEvent     string     `json:"last_event,omitempty"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	FailureClass  string     `json:"failure_class,omitempty"`
	LogsRoot      string     `json:"logs_root,omitempty"`
	RestartCount  int        `json:"restart_count,omitempty"`
}

// PendingQuestion is returned by GET /pipelines/{id}/questions.
type PendingQuestion struct {
	QuestionID string           `json:"question_id"`
	Type       string           `json:"type"`
	Text       string           `json:"text"`
	Stage      string           `json:"stage"`
	Options    []QuestionOption `json:"options,omitempty"`
	AskedAt    time.Time        `json:"asked_at"`
}

// QuestionOption is a single option in a human gate question.
type QuestionOption struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	To    string `json:"to,omitempty"`
}

// AnswerRequest is the POST /pipelines/{id}/questions/{qid}/answer body.
type AnswerRequest struct {
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
