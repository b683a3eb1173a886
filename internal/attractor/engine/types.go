// Package engine runs a validated graph to completion: it walks nodes
// start to exit, dispatches each to a Handler, evaluates the resulting
// Outcome against the node's retry/backoff/goal-gate rules, selects the
// next edge, and checkpoints after every stage so a run can be resumed.
//
// The engine owns the run's Context and emits an ordered Event stream;
// handlers only read context and return Outcome updates; the engine is
// the only thing that ever mutates the context. There is no in-run
// parallelism — one node executes at a time.
package engine

import (
	"context"
	"time"

	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// BackendOptions carries per-call knobs a Backend must honor.
type BackendOptions struct {
	Model           string
	Provider        string
	ReasoningEffort string
	ToolMode        string
	CancelToken     context.Context
}

// Backend is the LLM adapter contract. The engine never talks to a model
// provider directly; it calls Backend.Run for every codergen-kind node and
// interprets the returned Outcome. A concrete implementation is expected to
// honor cancellation at its three suspension points (before the call, while
// streaming, while waiting on a tool result), apply the status-marker
// protocol-retry rule, write "<keybase>._full_response", and populate the
// outcome's context_updates with the usage keys
// "<keybase>.usage.{input_tokens,output_tokens,cache_read_tokens,cache_write_tokens,total_tokens,cost}".
type Backend interface {
	Run(ctx context.Context, node *model.Node, prompt string, rc *runtime.Context, opts BackendOptions) (runtime.Outcome, error)
}

// QuestionType enumerates the shapes of question a human gate can ask.
type QuestionType string

const (
	QuestionYesNo         QuestionType = "yes_no"
	QuestionConfirmation  QuestionType = "confirmation"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionFreeform      QuestionType = "freeform"
)

// Option is a single selectable answer for a multiple_choice/yes_no/
// confirmation question, carrying the id of the downstream node (its
// edge's target) it should preferentially route to.
type Option struct {
	Key   string
	Label string
	To    string
}

// Question is posed to the Interviewer by a human gate node.
type Question struct {
	Text          string
	Type          QuestionType
	Options       []Option
	Stage         string
	DefaultAnswer *Answer
	Timeout       time.Duration
}

// Answer is the Interviewer's response to a Question.
type Answer struct {
	Value          string
	SelectedOption *Option
	Text           string
}

// Interviewer asks a human a Question and waits for an Answer. Cancellation
// during Ask must return DefaultAnswer (or the first option, for a
// select-type question with no default) rather than block forever; a
// cancelled freeform question returns an empty Answer.
type Interviewer interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// JjRunner is the narrow shell the engine needs onto the Jujutsu VCS for
// workspace_create/merge/cleanup stages: run one jj invocation and return
// its stdout. cwd may be empty to run in the process's working directory.
type JjRunner interface {
	Run(ctx context.Context, args []string, cwd string) (string, error)
}

// EventKind enumerates the engine's event stream vocabulary.
type EventKind string

const (
	EventPipelineStarted  EventKind = "pipeline_started"
	EventPipelineResumed  EventKind = "pipeline_resumed"
	EventStageStarted     EventKind = "stage_started"
	EventAgentText        EventKind = "agent_text"
	EventAgentToolStart   EventKind = "agent_tool_start"
	EventAgentToolEnd     EventKind = "agent_tool_end"
	EventStageCompleted   EventKind = "stage_completed"
	EventStageFailed      EventKind = "stage_failed"
	EventStageRetrying    EventKind = "stage_retrying"
	EventCheckpointSaved  EventKind = "checkpoint_saved"
	EventUsageUpdate      EventKind = "usage_update"
	EventPipelineCompleted EventKind = "pipeline_completed"
	EventPipelineFailed   EventKind = "pipeline_failed"
	EventPipelineCancelled EventKind = "pipeline_cancelled"
)

// Event is a single entry in the run's event stream.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives Events in emission order. Implementations must not
// block the engine for long; a slow sink (e.g. an SSE fan-out) should buffer
// internally.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

func newEvent(kind EventKind, data map[string]any) Event {
	return Event{Kind: kind, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Data: data}
}
