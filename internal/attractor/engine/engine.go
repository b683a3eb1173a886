package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
	"github.com/danshapiro/attractorctl/internal/attractor/validate"
	"github.com/vmihailenco/msgpack/v5"
)

// blockedLogRoots are directories the engine refuses to use as a run's
// logs root, to stop a misconfigured run from scribbling checkpoints over
// the host system.
var blockedLogRoots = map[string]bool{
	"/": true, "/etc": true, "/usr": true, "/bin": true, "/sbin": true,
	"/var": true, "/sys": true, "/proc": true, "/root": true, "/home": true,
}

// RunOptions configures one Engine.Run invocation.
type RunOptions struct {
	Graph       *model.Graph
	RunID       string
	LogsRoot    string
	WorktreeDir string
	Goal        string

	MaxRetries int // default retry budget when a node sets no max_retries attr
	Backoff    BackoffConfig

	Registry *HandlerRegistry

	// Jj, if set, lets the engine itself (not just the workspace handlers)
	// talk to the jj workspace: capturing workspace.tip_commit after every
	// stage and recovering a missing workspace directory on resume.
	Jj JjRunner

	// ResumeFrom, if non-nil, resumes a prior run from its checkpoint
	// instead of starting fresh.
	ResumeFrom *runtime.Checkpoint
}

// Result is what Engine.Run returns once the run reaches a terminal state.
type Result struct {
	Status        runtime.FinalStatus
	FailureReason string
	FailureClass  string
	FinalNode     string
	CompletedNodes []string
	RestartCount  int
	Usage         RunUsageSummary
}

// Engine runs one pipeline graph to completion. It owns the run Context and
// is the only thing that mutates it; handlers only observe it and return
// Outcome.ContextUpdates.
type Engine struct {
	Sink EventSink

	ctx          *runtime.Context
	opts         RunOptions
	nodeRetries  map[string]int
	completed    []string
	restartCount int
	usage        UsageAggregator
	pendingGoalGates map[string]bool
	pendingRevisit   map[string]map[string]bool
}

func NewEngine(sink EventSink) *Engine {
	if sink == nil {
		sink = EventSinkFunc(func(Event) {})
	}
	return &Engine{Sink: sink}
}

func (e *Engine) emit(kind EventKind, data map[string]any) {
	e.Sink.Emit(newEvent(kind, data))
}

// Context exposes the run's live context snapshot. Callers must not mutate
// the returned value's internals directly; use it for read-only reporting
// (e.g. an HTTP status endpoint) while the run is in flight.
func (e *Engine) Context() *runtime.Context {
	return e.ctx
}

// Run executes opts.Graph from start to a terminal node (or until cancelled
// via ctx), checkpointing after every stage.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (Result, error) {
	if opts.Registry == nil {
		return Result{}, fmt.Errorf("engine: RunOptions.Registry is required")
	}
	if opts.Graph == nil {
		return Result{}, fmt.Errorf("engine: RunOptions.Graph is required")
	}
	if err := validate.ValidateOrError(opts.Graph); err != nil {
		return Result{}, fmt.Errorf("engine: %w", err)
	}
	if abs, err := filepath.Abs(opts.LogsRoot); err == nil && blockedLogRoots[filepath.Clean(abs)] {
		return Result{}, fmt.Errorf("engine: refusing to use %s as logs root", abs)
	}

	e.opts = opts
	e.nodeRetries = map[string]int{}
	e.pendingGoalGates = map[string]bool{}
	e.pendingRevisit = map[string]map[string]bool{}
	for id, n := range opts.Graph.Nodes {
		if n != nil && strings.EqualFold(n.Attr("goal_gate", "false"), "true") {
			e.pendingGoalGates[id] = true
		}
	}

	if err := os.MkdirAll(opts.LogsRoot, 0o755); err != nil {
		return Result{}, fmt.Errorf("engine: create logs root: %w", err)
	}

	startNode := findStartNode(opts.Graph)
	if startNode == "" {
		return Result{}, fmt.Errorf("engine: graph has no start node")
	}

	current := startNode
	if opts.ResumeFrom != nil {
		cp := opts.ResumeFrom
		e.ctx = runtime.NewContext()
		e.ctx.ReplaceSnapshot(cp.ContextValues, cp.Logs)
		e.completed = append([]string{}, cp.CompletedNodes...)
		for k, v := range cp.NodeRetries {
			e.nodeRetries[k] = v
		}
		if rc, ok := cp.Extra["restart_count"].(float64); ok {
			e.restartCount = int(rc)
		}
		current = cp.CurrentNode
		if cp.ResumeAt != "" {
			current = cp.ResumeAt
		}
		e.recoverWorkspace(ctx)
		e.emit(EventPipelineResumed, map[string]any{"name": opts.Graph.Name, "resume_at": current})
	} else {
		e.ctx = runtime.NewContext()
		e.ctx.Set("graph.goal", opts.Goal)
		if label := opts.Graph.Attrs["label"]; label != "" {
			e.ctx.Set("graph.label", label)
		}
		e.emit(EventPipelineStarted, map[string]any{
			"name":       opts.Graph.Name,
			"node_count": len(opts.Graph.Nodes),
			"stage_count": len(opts.Graph.Nodes),
		})
	}

	done := ctx.Done()

	for {
		if cancelled(done) {
			e.saveCheckpoint(current, "", true)
			e.emit(EventPipelineCancelled, map[string]any{"node_id": current})
			return Result{Status: runtime.FinalFail, FailureReason: "cancelled", FailureClass: string(runtime.FailureCancelled), FinalNode: current, CompletedNodes: e.completed, RestartCount: e.restartCount, Usage: e.usage.Summary()}, nil
		}

		node := opts.Graph.Nodes[current]
		if node == nil {
			return Result{}, fmt.Errorf("engine: unknown node %q", current)
		}

		if resolveType(node) == "exit" {
			if unmet := e.unmetGoalGates(); len(unmet) > 0 {
				if target, ok := e.goalGateFallback(opts.Graph, unmet[0]); ok {
					current = target
					continue
				}
				e.emit(EventPipelineFailed, map[string]any{"node_id": current, "failure_class": string(runtime.FailureGoalGateUnmet)})
				return Result{Status: runtime.FinalFail, FailureReason: "goal gate unmet: " + unmet[0], FailureClass: string(runtime.FailureGoalGateUnmet), FinalNode: current, CompletedNodes: e.completed, RestartCount: e.restartCount, Usage: e.usage.Summary()}, nil
			}
			if !e.nodeCompleted(current) {
				e.completed = append(e.completed, current)
			}
			e.saveCheckpoint(current, "", false)
			e.emit(EventPipelineCompleted, map[string]any{"node_id": current})
			return Result{Status: runtime.FinalSuccess, FinalNode: current, CompletedNodes: e.completed, RestartCount: e.restartCount, Usage: e.usage.Summary()}, nil
		}

		outcome, next, err := e.runStage(ctx, opts, node, done)
		if err != nil {
			return Result{}, err
		}

		if outcome.Status == runtime.StatusCancelled {
			e.saveCheckpoint(current, current, true)
			e.emit(EventPipelineCancelled, map[string]any{"node_id": current})
			return Result{Status: runtime.FinalFail, FailureReason: "cancelled", FailureClass: string(runtime.FailureCancelled), FinalNode: current, CompletedNodes: e.completed, RestartCount: e.restartCount, Usage: e.usage.Summary()}, nil
		}

		e.completed = append(e.completed, current)
		e.captureWorkspaceTip(ctx)
		e.saveCheckpoint(current, "", false)

		if outcome.Status == runtime.StatusFail && next == nil {
			if target, ok := e.retryTarget(node); ok {
				current = target
				continue
			}
			e.emit(EventPipelineFailed, map[string]any{"node_id": current, "failure_reason": outcome.FailureReason, "failure_class": outcome.FailureClass})
			return Result{Status: runtime.FinalFail, FailureReason: outcome.FailureReason, FailureClass: outcome.FailureClass, FinalNode: current, CompletedNodes: e.completed, RestartCount: e.restartCount, Usage: e.usage.Summary()}, nil
		}

		if next == nil {
			e.emit(EventPipelineFailed, map[string]any{"node_id": current, "failure_reason": "no matching edge"})
			return Result{Status: runtime.FinalFail, FailureReason: "no outgoing edge matched", FailureClass: string(runtime.FailureStageError), FinalNode: current, CompletedNodes: e.completed, RestartCount: e.restartCount, Usage: e.usage.Summary()}, nil
		}

		if resolveType(node) == "human" {
			e.armRevisit(opts.Graph, node, next)
		}

		if next.LoopRestart() {
			e.snapshotRestartCheckpoint(current)
			e.restartCount++
			e.completed = nil
			e.nodeRetries = map[string]int{}
			e.emit(EventPipelineStarted, map[string]any{"name": opts.Graph.Name, "restart_count": e.restartCount})
		}

		if gate, ok := e.consumeRevisit(next.To); ok {
			current = gate
		} else {
			current = next.To
		}
	}
}

// runStage runs node's handler across its retry budget, applying backoff
// between attempts, and returns the final outcome plus the edge selected
// for it (nil if the failure path found no edge).
func (e *Engine) runStage(ctx context.Context, opts RunOptions, node *model.Node, done <-chan struct{}) (runtime.Outcome, *model.Edge, error) {
	handler, kind, ok := opts.Registry.Resolve(node)
	if !ok {
		return runtime.Outcome{}, nil, fmt.Errorf("engine: no handler registered for type %q (node %s)", kind, node.ID)
	}

	maxRetries := opts.MaxRetries
	if raw := strings.TrimSpace(node.Attr("max_retries", "")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			maxRetries = n
		}
	}
	maxAttempts := maxRetries + 1

	single := false
	if sr, ok := handler.(SingleExecutionHandler); ok {
		single = sr.SkipRetry()
	}
	if single {
		maxAttempts = 1
	}

	nodeLogsRoot := filepath.Join(opts.LogsRoot, node.ID)
	var outcome runtime.Outcome
	attempt := 0
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		if cancelled(done) {
			outcome = runtime.Outcome{Status: runtime.StatusCancelled, FailureClass: string(runtime.FailureCancelled)}
			break
		}

		e.emit(EventStageStarted, map[string]any{"node_id": node.ID, "attempt": attempt, "type": kind})

		ex := Execution{
			Graph:       opts.Graph,
			Node:        node,
			RunID:       opts.RunID,
			LogsDir:     filepath.Join(nodeLogsRoot, fmt.Sprintf("attempt-%d", attempt)),
			Attempt:     attempt,
			WorktreeDir: opts.WorktreeDir,
		}

		var err error
		outcome, err = func() (o runtime.Outcome, err error) {
			defer func() {
				if r := recover(); r != nil {
					_ = os.MkdirAll(nodeLogsRoot, 0o755)
					_ = os.WriteFile(filepath.Join(nodeLogsRoot, "panic.txt"), []byte(fmt.Sprintf("%v\n\n%s", r, debug.Stack())), 0o644)
					o, err = runtime.Outcome{}, fmt.Errorf("handler panic: %v", r)
				}
			}()
			return handler.Execute(ctx, ex, e.ctx)
		}()
		if err != nil {
			outcome = runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error(), FailureClass: string(runtime.FailureStageError)}
		}
		canonical, cerr := outcome.Canonicalize()
		if cerr == nil {
			outcome = canonical
		}

		e.ctx.ApplyUpdates(outcome.ContextUpdates)
		e.usage.RecordAttempt(node.ID, attempt, outcome.ContextUpdates)
		if tu, ok := outcome.ContextUpdates[node.ID+".usage.total_tokens"]; ok {
			e.emit(EventUsageUpdate, map[string]any{"node_id": node.ID, "attempt": attempt, "total_tokens": tu})
		}

		if cancelled(done) {
			outcome.Status = runtime.StatusCancelled
			outcome.FailureClass = string(runtime.FailureCancelled)
			break
		}

		if kind == "conditional" {
			e.emit(EventStageCompleted, map[string]any{"node_id": node.ID, "attempt": attempt})
			break
		}

		if outcome.Status.IsSuccessLike() {
			e.nodeRetries[node.ID] = 0
			e.emit(EventStageCompleted, map[string]any{"node_id": node.ID, "attempt": attempt})
			break
		}

		if attempt < maxAttempts {
			e.emit(EventStageRetrying, map[string]any{"node_id": node.ID, "attempt": attempt, "failure_class": outcome.FailureClass})
			delay := opts.Backoff.DelayForAttempt(attempt)
			if sleepInterruptible(done, delay) {
				outcome.Status = runtime.StatusCancelled
				outcome.FailureClass = string(runtime.FailureCancelled)
				break
			}
			continue
		}

		e.emit(EventStageFailed, map[string]any{"node_id": node.ID, "attempt": attempt, "failure_reason": outcome.FailureReason, "failure_class": outcome.FailureClass})
	}

	edge, err := selectNextEdge(opts.Graph, node.ID, outcome, e.ctx)
	if err != nil {
		return outcome, nil, fmt.Errorf("engine: selecting next edge for %s: %w", node.ID, err)
	}
	return outcome, edge, nil
}

func (e *Engine) retryTarget(node *model.Node) (string, bool) {
	if t := strings.TrimSpace(node.Attr("retry_target", "")); t != "" {
		return t, true
	}
	if t := strings.TrimSpace(node.Attr("fallback_retry_target", "")); t != "" {
		return t, true
	}
	if t := strings.TrimSpace(e.opts.Graph.Attrs["retry_target"]); t != "" {
		return t, true
	}
	if t := strings.TrimSpace(e.opts.Graph.Attrs["fallback_retry_target"]); t != "" {
		return t, true
	}
	return "", false
}

func (e *Engine) unmetGoalGates() []string {
	var unmet []string
	for id := range e.pendingGoalGates {
		if !e.nodeCompleted(id) {
			unmet = append(unmet, id)
		}
	}
	return unmet
}

func (e *Engine) nodeCompleted(id string) bool {
	for _, c := range e.completed {
		if c == id {
			return true
		}
	}
	return false
}

func (e *Engine) goalGateFallback(g *model.Graph, gateID string) (string, bool) {
	node := g.Nodes[gateID]
	if node == nil {
		return "", false
	}
	return e.retryTarget(node)
}

func (e *Engine) saveCheckpoint(currentNode, resumeAt string, cancelledRun bool) {
	cp := runtime.NewCheckpoint(currentNode, "", e.completed, e.nodeRetries, e.ctx)
	cp.ResumeAt = resumeAt
	cp.Extra["restart_count"] = e.restartCount
	path := filepath.Join(e.opts.LogsRoot, "checkpoint.json")
	if err := cp.Save(path); err != nil {
		e.emit(EventCheckpointSaved, map[string]any{"node_id": currentNode, "error": err.Error()})
		return
	}
	e.saveUsageSnapshot()
	e.emit(EventCheckpointSaved, map[string]any{"node_id": currentNode})
}

// saveUsageSnapshot persists the usage aggregator alongside the checkpoint
// in a compact binary form, so a long run can append attempts' usage
// without re-serializing the growing JSON array on every stage.
func (e *Engine) saveUsageSnapshot() {
	b, err := msgpack.Marshal(e.usage.Summary())
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(e.opts.LogsRoot, "usage.msgpack"), b, 0o644)
}

// captureWorkspaceTip records the jj workspace's current tip commit into
// context so a later resume can recover it (§4.6.3 step 6). A no-op when
// the run has no workspace or no JjRunner configured.
func (e *Engine) captureWorkspaceTip(ctx context.Context) {
	if e.opts.Jj == nil {
		return
	}
	path := e.ctx.GetString("workspace.path", "")
	if path == "" {
		return
	}
	out, err := e.opts.Jj.Run(ctx, []string{"log", "-r", "@", "--no-graph", "-T", "commit_id"}, path)
	if err != nil {
		return
	}
	if tip := strings.TrimSpace(out); tip != "" {
		e.ctx.Set("workspace.tip_commit", tip)
	}
}

// recoverWorkspace re-adds a jj workspace whose directory went missing
// between runs, restoring it to the tip commit captured before the run
// was interrupted (§4.6.2). A no-op if the run never had a workspace, the
// workspace directory is still present, or no JjRunner is configured.
func (e *Engine) recoverWorkspace(ctx context.Context) {
	path := e.ctx.GetString("workspace.path", "")
	if path == "" || e.opts.Jj == nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		return
	}
	name := e.ctx.GetString("workspace.name", "")
	repoRoot := e.ctx.GetString("workspace.repo_root", "")
	if name == "" || repoRoot == "" {
		return
	}
	_, _ = e.opts.Jj.Run(ctx, []string{"workspace", "forget", name}, repoRoot)
	if _, err := e.opts.Jj.Run(ctx, []string{"workspace", "add", "--name", name, path}, repoRoot); err != nil {
		return
	}
	if tip := e.ctx.GetString("workspace.tip_commit", ""); tip != "" {
		_, _ = e.opts.Jj.Run(ctx, []string{"edit", tip}, path)
	}
}

// snapshotRestartCheckpoint saves the pre-restart checkpoint under
// <logsRoot>/restart-<n>/ before a loop_restart edge clears completed_nodes
// and node_retries, so the state right before a restart is never lost.
func (e *Engine) snapshotRestartCheckpoint(currentNode string) {
	n := e.restartCount + 1
	cp := runtime.NewCheckpoint(currentNode, "", e.completed, e.nodeRetries, e.ctx)
	cp.Extra["restart_count"] = e.restartCount
	dir := filepath.Join(e.opts.LogsRoot, fmt.Sprintf("restart-%d", n))
	_ = cp.Save(filepath.Join(dir, "checkpoint.json"))
}

// armRevisit records gate as pending re-review when a human gate with
// re_review enabled (the default) is left via any edge other than its
// approve edge (§4.6.4). The watched set is everything reachable from the
// revision node's successors, so the revision node itself (e.g. "fix")
// still runs once; the redirect fires only once control passes beyond it.
func (e *Engine) armRevisit(g *model.Graph, gate *model.Node, next *model.Edge) {
	if !strings.EqualFold(gate.Attr("re_review", "true"), "true") {
		return
	}
	if next.To == approveEdgeTarget(g, gate.ID) {
		return
	}
	watched := map[string]bool{}
	for _, out := range g.Outgoing(next.To) {
		if out == nil {
			continue
		}
		for id := range reachableFrom(g, out.To) {
			watched[id] = true
		}
	}
	if len(watched) == 0 {
		return
	}
	if e.pendingRevisit == nil {
		e.pendingRevisit = map[string]map[string]bool{}
	}
	e.pendingRevisit[gate.ID] = watched
}

// consumeRevisit reports whether nodeID is in some armed gate's watched
// set, consuming that gate's pending revisit (it fires at most once per
// downstream revision round-trip) and returning the gate id to redirect
// control back to.
func (e *Engine) consumeRevisit(nodeID string) (string, bool) {
	for gateID, watched := range e.pendingRevisit {
		if gateID == nodeID {
			continue
		}
		if watched[nodeID] {
			delete(e.pendingRevisit, gateID)
			return gateID, true
		}
	}
	return "", false
}

// approveEdgeTarget returns the target of the outgoing edge from nodeID
// whose label marks it as the approval branch, identified by convention
// (the edge whose label contains "approve", case-insensitively) rather
// than a dedicated attribute, matching how human gate graphs are written.
func approveEdgeTarget(g *model.Graph, nodeID string) string {
	for _, e := range g.Outgoing(nodeID) {
		if e != nil && strings.Contains(strings.ToLower(e.Label()), "approve") {
			return e.To
		}
	}
	return ""
}

// reachableFrom returns every node id reachable from start, start
// included, via a plain BFS over g's edges.
func reachableFrom(g *model.Graph, start string) map[string]bool {
	seen := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range g.Outgoing(cur) {
			if e != nil && !seen[e.To] {
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

func cancelled(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func findStartNode(g *model.Graph) string {
	for _, id := range g.NodeOrder() {
		n := g.Nodes[id]
		if n != nil && resolveType(n) == "start" {
			return id
		}
	}
	return ""
}
