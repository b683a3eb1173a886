package engine

import (
	"context"

	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// Execution bundles everything a Handler needs to run one node once.
type Execution struct {
	Graph *model.Graph
	Node  *model.Node
	RunID string

	// LogsDir is this node's attempt-scoped artifact directory
	// (<logsRoot>/<nodeID>/attempt-<n>). The engine does not create it; a
	// handler that writes artifacts creates it first.
	LogsDir string
	Attempt int

	WorktreeDir string
}

// Handler executes one node and returns the resulting Outcome. Handlers may
// read the run Context but must never mutate it directly; any state change
// is expressed through Outcome.ContextUpdates and applied by the engine.
type Handler interface {
	Execute(ctx context.Context, ex Execution, rc *runtime.Context) (runtime.Outcome, error)
}

// FidelityAwareHandler is implemented by handlers whose prompt composition
// honors the node's fidelity attribute (context summarization level).
type FidelityAwareHandler interface {
	UsesFidelity() bool
}

// SingleExecutionHandler is implemented by handlers whose Execute must run
// at most once per stage visit regardless of max_retries (e.g. a pure
// pass-through like the conditional handler, or a human gate that must not
// re-prompt on retry).
type SingleExecutionHandler interface {
	SkipRetry() bool
}

// shapeToType maps a node's DOT/graphdoc shape to its default handler kind.
// An explicit "type" attribute on the node overrides this inference.
func shapeToType(shape string) string {
	switch shape {
	case "Mdiamond", "circle":
		return "start"
	case "Msquare", "doublecircle":
		return "exit"
	case "diamond":
		return "conditional"
	case "hexagon":
		return "human"
	case "parallelogram":
		return "tool"
	case "house":
		return "workspace_create"
	case "invhouse":
		return "workspace_merge"
	case "folder":
		return "workspace_cleanup"
	default:
		return "codergen"
	}
}

// resolveType returns the node's effective handler kind: its explicit type
// attribute if set, else the shape-based default.
func resolveType(n *model.Node) string {
	if t := n.TypeOverride(); t != "" {
		return t
	}
	return shapeToType(n.Shape())
}

// HandlerRegistry dispatches a node to its Handler by resolved type.
type HandlerRegistry struct {
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]Handler{}}
}

// Register installs h under kind, overwriting any previous registration.
func (r *HandlerRegistry) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// Resolve returns the Handler for n's effective type, and that type string.
func (r *HandlerRegistry) Resolve(n *model.Node) (Handler, string, bool) {
	kind := resolveType(n)
	h, ok := r.handlers[kind]
	return h, kind, ok
}

// KnownTypes returns the set of registered handler kinds, for the
// validator's type_known lint rule.
func (r *HandlerRegistry) KnownTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// NewDefaultRegistry wires up the built-in handlers against the given
// collaborators. Any of backend/interviewer/jj may be nil if the graph
// being run never exercises the corresponding node kind.
func NewDefaultRegistry(backend Backend, interviewer Interviewer, jj JjRunner, runner ToolRunner) *HandlerRegistry {
	r := NewHandlerRegistry()
	r.Register("start", &StartHandler{})
	r.Register("exit", &ExitHandler{})
	r.Register("conditional", &ConditionalHandler{})
	r.Register("codergen", &CodergenHandler{Backend: backend})
	r.Register("human", &WaitHumanHandler{Interviewer: interviewer})
	r.Register("tool", &ToolHandler{Runner: runner})
	r.Register("workspace_create", &WorkspaceCreateHandler{Jj: jj})
	r.Register("workspace_merge", &WorkspaceMergeHandler{Jj: jj})
	r.Register("workspace_cleanup", &WorkspaceCleanupHandler{Jj: jj})
	return r
}
