// Package model is the in-memory shape of a pipeline graph: nodes, edges,
// and the free-form attribute bags attached to each. Graphs are built once
// (by the graphdoc loader, or directly via AddNode/AddEdge) and are treated
// as immutable by everything downstream
// (validator, condition evaluator, engine).
package model

import "strings"

// Node is a single stage in the pipeline. Attrs holds the node's
// DOT/KDL-sourced attribute bag; recognized keys are documented on the
// accessor methods below. A handful of attrs determine the node's kind
// (shape/type), but the map itself is the source of truth — accessors are
// convenience only.
type Node struct {
	ID    string
	Attrs map[string]string

	// Order is the node's 0-based declaration order, set by AddNode.
	Order int
	// Classes are CSS-like classes supplied by the graph document (graphdoc's
	// per-node "classes" list), in addition to any explicit "class" attribute.
	Classes []string
}

func NewNode(id string) *Node {
	return &Node{ID: id, Attrs: map[string]string{}}
}

// Attr returns the attribute value for key, or def if absent/empty.
func (n *Node) Attr(key, def string) string {
	if n == nil || n.Attrs == nil {
		return def
	}
	if v, ok := n.Attrs[key]; ok && v != "" {
		return v
	}
	return def
}

// Shape returns the DOT shape attribute (e.g. "box", "diamond",
// "Mdiamond", "Msquare", "parallelogram", "doublecircle", "circle"),
// defaulting to "box" (plain codergen stage).
func (n *Node) Shape() string {
	return n.Attr("shape", "box")
}

// TypeOverride returns the explicit "type" attribute, if the author
// wants to bypass shape-based kind inference (e.g. shape=box with
// type=tool).
func (n *Node) TypeOverride() string {
	return strings.TrimSpace(n.Attr("type", ""))
}

// ClassList returns the node's CSS-like classes: any derived subgraph
// classes followed by the explicit "class" attribute, used by the
// stylesheet resolver.
func (n *Node) ClassList() []string {
	out := append([]string{}, n.Classes...)
	if raw := strings.TrimSpace(n.Attr("class", "")); raw != "" {
		out = append(out, strings.Fields(raw)...)
	}
	return out
}

// Prompt returns the node's literal prompt attribute. A prompt_file
// attribute is not read or expanded into it.
func (n *Node) Prompt() string {
	return n.Attr("prompt", "")
}

// Edge is a directed transition between two nodes, carrying an optional
// condition predicate, label, weight, and loop_restart flag.
type Edge struct {
	From, To string
	Attrs    map[string]string
}

func NewEdge(from, to string) *Edge {
	return &Edge{From: from, To: to, Attrs: map[string]string{}}
}

func (e *Edge) Attr(key, def string) string {
	if e == nil || e.Attrs == nil {
		return def
	}
	if v, ok := e.Attrs[key]; ok && v != "" {
		return v
	}
	return def
}

// Condition returns the edge's predicate string (see package cond), empty
// for an unconditional edge.
func (e *Edge) Condition() string {
	return strings.TrimSpace(e.Attr("condition", ""))
}

// Label is the edge's human-facing label, used both for display and as the
// target of outcome.preferred_label routing.
func (e *Edge) Label() string {
	return e.Attr("label", "")
}

// Weight is used to break ties among multiple matching edges; higher wins.
func (e *Edge) Weight() int {
	return parseIntAttr(e.Attr("weight", "0"), 0)
}

// LoopRestart reports whether traversing this edge should reset run state
// (see engine's loop-restart handling).
func (e *Edge) LoopRestart() bool {
	return parseBoolAttr(e.Attr("loop_restart", "false"), false)
}

// Graph is the full pipeline: a name, graph-level attrs (defaults
// inherited by nodes via the stylesheet resolver), and the node/edge sets.
// Treated as immutable once built.
type Graph struct {
	Name  string
	Attrs map[string]string
	Nodes map[string]*Node
	Edges []*Edge

	// nodeOrder preserves declaration order for deterministic iteration
	// where map iteration would otherwise be nondeterministic (e.g. "first
	// start node found" diagnostics).
	nodeOrder []string

	outgoing map[string][]*Edge
	incoming map[string][]*Edge
}

func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Attrs: map[string]string{},
		Nodes: map[string]*Node{},
	}
}

// AddNode inserts n, preserving first-seen declaration order. A node
// re-declared with the same id merges its attrs into the existing node
// (matching DOT's "repeated node statement adds attrs" semantics) rather
// than erroring, since the constrained DOT grammar allows a node id to
// appear in multiple scopes (e.g. defaults applied per-subgraph).
func (g *Graph) AddNode(n *Node) error {
	if n == nil {
		return nil
	}
	if n.ID == "" {
		return errEmptyNodeID
	}
	if existing, ok := g.Nodes[n.ID]; ok {
		for k, v := range n.Attrs {
			existing.Attrs[k] = v
		}
		existing.Classes = append(existing.Classes, n.Classes...)
		return nil
	}
	n.Order = len(g.nodeOrder)
	g.nodeOrder = append(g.nodeOrder, n.ID)
	g.Nodes[n.ID] = n
	g.outgoing = nil
	g.incoming = nil
	return nil
}

// AddEdge appends e to the edge list.
func (g *Graph) AddEdge(e *Edge) error {
	if e == nil {
		return nil
	}
	g.Edges = append(g.Edges, e)
	g.outgoing = nil
	g.incoming = nil
	return nil
}

var errEmptyNodeID = errNodeID("model: node id must not be empty")

type errNodeID string

func (e errNodeID) Error() string { return string(e) }

// NodeOrder returns node ids in first-seen declaration order.
func (g *Graph) NodeOrder() []string {
	out := make([]string, len(g.nodeOrder))
	copy(out, g.nodeOrder)
	return out
}

func (g *Graph) buildIndex() {
	if g.outgoing != nil {
		return
	}
	g.outgoing = map[string][]*Edge{}
	g.incoming = map[string][]*Edge{}
	for _, e := range g.Edges {
		if e == nil {
			continue
		}
		g.outgoing[e.From] = append(g.outgoing[e.From], e)
		g.incoming[e.To] = append(g.incoming[e.To], e)
	}
}

// Outgoing returns the edges whose From == id, in declaration order.
func (g *Graph) Outgoing(id string) []*Edge {
	g.buildIndex()
	return g.outgoing[id]
}

// Incoming returns the edges whose To == id, in declaration order.
func (g *Graph) Incoming(id string) []*Edge {
	g.buildIndex()
	return g.incoming[id]
}

func parseIntAttr(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func parseBoolAttr(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return def
	}
}
