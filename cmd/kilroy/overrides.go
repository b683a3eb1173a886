package main

import "github.com/danshapiro/attractorctl/internal/attractor/model"

// applyOverrides sets llm_model/llm_provider/tool_mode on every node that
// doesn't already declare them. model.Node has no graph-level attribute
// fallback, so a CLI-wide --model/--provider/--tools flag has to be
// stamped onto each node directly before validate/run ever sees the graph.
func applyOverrides(g *model.Graph, modelOverride, providerOverride, toolsOverride string) {
	if modelOverride == "" && providerOverride == "" && toolsOverride == "" {
		return
	}
	for _, id := range g.NodeOrder() {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		if modelOverride != "" && n.Attr("llm_model", "") == "" {
			n.Attrs["llm_model"] = modelOverride
		}
		if providerOverride != "" && n.Attr("llm_provider", "") == "" {
			n.Attrs["llm_provider"] = providerOverride
		}
		if toolsOverride != "" && n.Attr("tool_mode", "") == "" {
			n.Attrs["tool_mode"] = toolsOverride
		}
	}
}
