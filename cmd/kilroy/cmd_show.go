package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danshapiro/attractorctl/internal/attractor/graphdoc"
	"github.com/danshapiro/attractorctl/internal/attractor/model"
)

func cmdShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	format := fs.String("format", "auto", "output format: ascii|boxart|dot|auto")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: attractorctl show [--format=ascii|boxart|dot|auto] <workflow>")
		fs.PrintDefaults()
		return 2
	}

	g, err := graphdoc.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}

	f := *format
	if f == "auto" {
		f = "boxart"
		if os.Getenv("TERM") == "" || os.Getenv("TERM") == "dumb" {
			f = "ascii"
		}
	}

	switch f {
	case "ascii":
		fmt.Print(renderGraph(g, asciiGlyphs))
	case "boxart":
		fmt.Print(renderGraph(g, boxGlyphs))
	case "dot":
		fmt.Print(renderDOT(g))
	default:
		fmt.Fprintf(os.Stderr, "attractorctl: unknown format %q\n", f)
		return 2
	}
	return 0
}

// glyphSet supplies the border characters renderGraph uses for a node box,
// so the same layout logic can emit either 7-bit ASCII or Unicode box-art.
type glyphSet struct {
	tl, tr, bl, br, h, v string
}

var asciiGlyphs = glyphSet{tl: "+", tr: "+", bl: "+", br: "+", h: "-", v: "|"}
var boxGlyphs = glyphSet{tl: "┌", tr: "┐", bl: "└", br: "┘", h: "─", v: "│"}

// renderGraph prints one framed box per node in declaration order, followed
// by its outgoing edges. There is no existing attempt in the reference
// corpus at laying out a pipeline graph spatially (as graphviz does), so
// this renders a simple top-to-bottom listing instead: a box per node
// carrying its kind and key attributes, then an indented "-> target
// [condition]" line per outgoing edge. That is enough to read a pipeline's
// shape in a terminal without a DOT toolchain.
func renderGraph(g *model.Graph, gl glyphSet) string {
	out := ""
	for _, id := range g.NodeOrder() {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		title := fmt.Sprintf(" %s (%s) ", n.ID, nodeKindLabel(n))
		width := len(title)
		out += gl.tl + repeat(gl.h, width) + gl.tr + "\n"
		out += gl.v + title + gl.v + "\n"
		out += gl.bl + repeat(gl.h, width) + gl.br + "\n"
		for _, e := range g.Outgoing(id) {
			if e == nil {
				continue
			}
			cond := e.Condition()
			if cond == "" {
				out += fmt.Sprintf("    -> %s\n", e.To)
			} else {
				out += fmt.Sprintf("    -> %s [%s]\n", e.To, cond)
			}
		}
		out += "\n"
	}
	return out
}

func nodeKindLabel(n *model.Node) string {
	if t := n.TypeOverride(); t != "" {
		return t
	}
	return n.Shape()
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

// renderDOT emits a minimal Graphviz DOT rendering of g, for piping into
// `dot` or another external viewer. This is export-only: the CLI never
// parses DOT as an input format (graphdoc.Load is JSON/YAML only).
func renderDOT(g *model.Graph) string {
	out := "digraph " + quoteDOT(g.Name) + " {\n"
	for _, id := range g.NodeOrder() {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		out += fmt.Sprintf("  %s [shape=%s,label=%s];\n", quoteDOT(id), n.Shape(), quoteDOT(id))
	}
	for _, e := range g.Edges {
		if e == nil {
			continue
		}
		if cond := e.Condition(); cond != "" {
			out += fmt.Sprintf("  %s -> %s [label=%s];\n", quoteDOT(e.From), quoteDOT(e.To), quoteDOT(cond))
		} else {
			out += fmt.Sprintf("  %s -> %s;\n", quoteDOT(e.From), quoteDOT(e.To))
		}
	}
	out += "}\n"
	return out
}

func quoteDOT(s string) string {
	return `"` + s + `"`
}
