// Package graphdoc loads and saves the in-memory graph (model.Graph) as a
// plain JSON or YAML document. The workflow file's own surface syntax is an
// external collaborator's concern; graphdoc is the boundary format a CLI or
// HTTP caller uses to hand the engine an already-parsed graph.
package graphdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/attractorctl/internal/attractor/model"
	"github.com/danshapiro/attractorctl/internal/attractor/style"
)

// Doc is the serializable shape of a model.Graph.
type Doc struct {
	Name  string            `json:"name" yaml:"name"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Nodes []NodeDoc         `json:"nodes" yaml:"nodes"`
	Edges []EdgeDoc         `json:"edges" yaml:"edges"`
}

type NodeDoc struct {
	ID      string            `json:"id" yaml:"id"`
	Attrs   map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Classes []string          `json:"classes,omitempty" yaml:"classes,omitempty"`
}

type EdgeDoc struct {
	From  string            `json:"from" yaml:"from"`
	To    string            `json:"to" yaml:"to"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Load reads a graph document from path, dispatching on extension
// (.yaml/.yml use YAML, everything else JSON).
func Load(path string) (*model.Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graphdoc: read %s: %w", path, err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		return DecodeYAML(b)
	}
	return DecodeJSON(b)
}

func DecodeJSON(b []byte) (*model.Graph, error) {
	var doc Doc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("graphdoc: decode json: %w", err)
	}
	return doc.ToGraph()
}

func DecodeYAML(b []byte) (*model.Graph, error) {
	var doc Doc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("graphdoc: decode yaml: %w", err)
	}
	return doc.ToGraph()
}

// ToGraph builds a model.Graph from the document, preserving node/edge
// declaration order.
func (d *Doc) ToGraph() (*model.Graph, error) {
	g := model.NewGraph(d.Name)
	for k, v := range d.Attrs {
		g.Attrs[k] = v
	}
	for _, nd := range d.Nodes {
		n := model.NewNode(nd.ID)
		for k, v := range nd.Attrs {
			n.Attrs[k] = v
		}
		n.Classes = append(n.Classes, nd.Classes...)
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("graphdoc: node %q: %w", nd.ID, err)
		}
	}
	for _, ed := range d.Edges {
		e := model.NewEdge(ed.From, ed.To)
		for k, v := range ed.Attrs {
			e.Attrs[k] = v
		}
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("graphdoc: edge %s->%s: %w", ed.From, ed.To, err)
		}
	}
	if src := strings.TrimSpace(g.Attrs["stylesheet"]); src != "" {
		rules, err := style.ParseStylesheet(src)
		if err != nil {
			return nil, fmt.Errorf("graphdoc: stylesheet: %w", err)
		}
		if err := style.ApplyStylesheet(g, rules); err != nil {
			return nil, fmt.Errorf("graphdoc: apply stylesheet: %w", err)
		}
	}
	return g, nil
}

// FromGraph serializes g into a Doc, in node declaration order.
func FromGraph(g *model.Graph) *Doc {
	doc := &Doc{Name: g.Name, Attrs: g.Attrs}
	for _, id := range g.NodeOrder() {
		n := g.Nodes[id]
		doc.Nodes = append(doc.Nodes, NodeDoc{ID: n.ID, Attrs: n.Attrs, Classes: n.Classes})
	}
	for _, e := range g.Edges {
		doc.Edges = append(doc.Edges, EdgeDoc{From: e.From, To: e.To, Attrs: e.Attrs})
	}
	return doc
}

// EncodeJSON serializes g as indented JSON.
func EncodeJSON(g *model.Graph) ([]byte, error) {
	return json.MarshalIndent(FromGraph(g), "", "  ")
}

// EncodeYAML serializes g as YAML, the counterpart of EncodeJSON. The
// `show` command does not call it.
func EncodeYAML(g *model.Graph) ([]byte, error) {
	return yaml.Marshal(FromGraph(g))
}
