package engine

import (
	"sort"
	"strings"

	"github.com/danshapiro/attractorctl/internal/attractor/cond"
	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
)

// selectNextEdge picks the outgoing edge to follow after a stage attempt.
// Success-like outcomes (success, partial_success) use the 5-step
// priority order; fail/retry/cancelled outcomes use the narrower 3-step
// order that refuses to silently hop to an unrelated node.
func selectNextEdge(g *model.Graph, nodeID string, outcome runtime.Outcome, rc *runtime.Context) (*model.Edge, error) {
	edges := g.Outgoing(nodeID)
	if len(edges) == 0 {
		return nil, nil
	}
	if outcome.Status.IsSuccessLike() {
		return selectSuccessEdge(g, edges, outcome, rc)
	}
	return selectFailureEdge(g, edges, outcome, rc)
}

func matchingConditionEdges(edges []*model.Edge, outcome runtime.Outcome, rc *runtime.Context) ([]*model.Edge, error) {
	var matched []*model.Edge
	for _, e := range edges {
		if e == nil || e.Condition() == "" {
			continue
		}
		ok, err := cond.Evaluate(e.Condition(), outcome, rc)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func highestWeightLexFirst(edges []*model.Edge) *model.Edge {
	if len(edges) == 0 {
		return nil
	}
	best := append([]*model.Edge{}, edges...)
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].Weight() != best[j].Weight() {
			return best[i].Weight() > best[j].Weight()
		}
		return best[i].To < best[j].To
	})
	return best[0]
}

// selectSuccessEdge implements the 5-step priority order for a
// success/partial_success outcome:
//  1. matching condition, highest weight then lexicographic tiebreak
//  2. edge whose label matches outcome.PreferredLabel (accelerator-stripped,
//     case-insensitive)
//  3. edges named in outcome.SuggestedNextIDs, in order
//  4. unconditional edge, highest weight
//  5. any remaining edge
func selectSuccessEdge(g *model.Graph, edges []*model.Edge, outcome runtime.Outcome, rc *runtime.Context) (*model.Edge, error) {
	matched, err := matchingConditionEdges(edges, outcome, rc)
	if err != nil {
		return nil, err
	}
	if e := highestWeightLexFirst(matched); e != nil {
		return e, nil
	}

	if pl := normalizeLabel(outcome.PreferredLabel); pl != "" {
		for _, e := range edges {
			if e != nil && normalizeLabel(e.Label()) == pl {
				return e, nil
			}
		}
	}

	for _, id := range outcome.SuggestedNextIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		for _, e := range edges {
			if e != nil && e.To == id {
				return e, nil
			}
		}
	}

	var unconditional []*model.Edge
	for _, e := range edges {
		if e != nil && e.Condition() == "" {
			unconditional = append(unconditional, e)
		}
	}
	if e := highestWeightLexFirst(unconditional); e != nil {
		return e, nil
	}

	if len(edges) > 0 {
		return edges[0], nil
	}
	return nil, nil
}

// selectFailureEdge implements the narrower 3-step priority order for a
// fail/retry/cancelled outcome, deliberately excluding the broad
// "any remaining edge" fallback so a failure never silently routes
// somewhere a human didn't explicitly sanction:
//  1. matching condition
//  2. unconditional edge, but ONLY to a conditional/routing-shaped node
//  3. edges named in outcome.SuggestedNextIDs, in order
//
// No match means no edge: the caller falls back to retry_target/fail.
func selectFailureEdge(g *model.Graph, edges []*model.Edge, outcome runtime.Outcome, rc *runtime.Context) (*model.Edge, error) {
	matched, err := matchingConditionEdges(edges, outcome, rc)
	if err != nil {
		return nil, err
	}
	if e := highestWeightLexFirst(matched); e != nil {
		return e, nil
	}

	var unconditional []*model.Edge
	for _, e := range edges {
		if e == nil || e.Condition() != "" {
			continue
		}
		target := g.Nodes[e.To]
		if target != nil && resolveType(target) == "conditional" {
			unconditional = append(unconditional, e)
		}
	}
	if e := highestWeightLexFirst(unconditional); e != nil {
		return e, nil
	}

	for _, id := range outcome.SuggestedNextIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		for _, e := range edges {
			if e != nil && e.To == id {
				return e, nil
			}
		}
	}

	return nil, nil
}
