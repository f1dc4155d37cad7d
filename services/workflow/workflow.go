// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow models guided decision graphs.
//
// A graph is a named, immutable set of nodes. Each node is exactly one of
// two kinds: a question (awaits a choice from labeled options) or a verdict
// (terminal informational text). Graphs are parsed from YAML definitions
// where the first declared node is the entry node; that ordering rule is
// load-bearing and covered by tests, so parsing goes through yaml.Node to
// preserve key declaration order.
//
// Graphs and nodes never mutate after Load. Lookups are by name only, so two
// loads of the same definition are interchangeable.
package workflow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeKind distinguishes the two node variants.
type NodeKind int

const (
	// KindQuestion nodes present a prompt and await one of the node's options.
	KindQuestion NodeKind = iota

	// KindVerdict nodes are terminal within normal traversal.
	KindVerdict
)

// String returns the YAML key that declares the kind.
func (k NodeKind) String() string {
	switch k {
	case KindQuestion:
		return "question"
	case KindVerdict:
		return "verdict"
	default:
		return "unknown"
	}
}

// Option is a labeled directed edge to another node in the same graph.
type Option struct {
	// Label is the choice presented to the user. Unique within the node.
	Label string `json:"label"`

	// Target is the name of the node this option leads to.
	Target string `json:"target"`
}

// Node is a single point in a graph.
type Node struct {
	// Name is unique within the owning graph.
	Name string `json:"name"`

	// Kind selects the question or verdict variant.
	Kind NodeKind `json:"kind"`

	// Prompt is the display text for the node. For questions this is the
	// question text; for verdicts the verdict text.
	Prompt string `json:"prompt"`

	// Options holds the outgoing edges in declaration order.
	// Verdict nodes typically have none.
	Options []Option `json:"options,omitempty"`

	// Sidebars lists opaque resource identifiers attached to this node.
	Sidebars []string `json:"sidebars,omitempty"`
}

// OptionLabels returns the option labels in declaration order.
func (n *Node) OptionLabels() []string {
	labels := make([]string, 0, len(n.Options))
	for _, opt := range n.Options {
		labels = append(labels, opt.Label)
	}
	return labels
}

// MatchOption finds an option by label, ignoring ASCII case. Returns the
// matched option (with its canonical label) and true if found.
func (n *Node) MatchOption(label string) (Option, bool) {
	for _, opt := range n.Options {
		if strings.EqualFold(opt.Label, label) {
			return opt, true
		}
	}
	return Option{}, false
}

// NodeRef identifies a node across graphs. The zero value means "no node".
type NodeRef struct {
	Graph string `json:"graph"`
	Node  string `json:"node"`
}

// IsZero reports whether the ref points at nothing.
func (r NodeRef) IsZero() bool {
	return r.Graph == "" && r.Node == ""
}

// Graph is a named decision graph. Immutable after parsing.
type Graph struct {
	name  string
	entry string
	nodes map[string]*Node
	order []string
}

// Name returns the graph's registered name.
func (g *Graph) Name() string { return g.name }

// Entry returns the name of the first-declared node.
func (g *Graph) Entry() string { return g.entry }

// EntryNode returns the first-declared node.
func (g *Graph) EntryNode() *Node { return g.nodes[g.entry] }

// Node returns the named node, or false if the graph has no such node.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// NodeNames returns all node names in declaration order.
func (g *Graph) NodeNames() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// DefinitionError reports a malformed graph definition. Definition errors
// are fatal at load time; they never occur on the per-turn path.
type DefinitionError struct {
	Graph  string
	Node   string
	Reason string
}

// Error implements the error interface for DefinitionError.
func (e *DefinitionError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("graph %q: node %q: %s", e.Graph, e.Node, e.Reason)
	}
	return fmt.Sprintf("graph %q: %s", e.Graph, e.Reason)
}

// IsDefinitionError checks if an error is a *DefinitionError.
func IsDefinitionError(err error) bool {
	_, ok := err.(*DefinitionError)
	return ok
}

// ParseDefinition parses a YAML graph definition.
//
// The definition is a mapping whose top-level keys are node names in
// declaration order; the first key becomes the entry node. Each node mapping
// carries exactly one of "question" or "verdict" (the prompt text), an
// optional "options" mapping of label to target node name, and an optional
// "sidebars" sequence.
//
// Returns a *DefinitionError for an empty definition, a duplicate node name,
// a node with zero or both kind keys, a duplicate option label, or an option
// targeting a node that does not exist in the graph.
func ParseDefinition(name string, data []byte) (*Graph, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &DefinitionError{Graph: name, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &DefinitionError{Graph: name, Reason: "empty definition"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &DefinitionError{Graph: name, Reason: "definition must be a mapping of node names"}
	}

	g := &Graph{
		name:  name,
		nodes: make(map[string]*Node),
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		nodeName := root.Content[i].Value
		if _, dup := g.nodes[nodeName]; dup {
			return nil, &DefinitionError{Graph: name, Node: nodeName, Reason: "duplicate node name"}
		}
		node, err := parseNode(name, nodeName, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		g.nodes[nodeName] = node
		g.order = append(g.order, nodeName)
	}

	if len(g.order) == 0 {
		return nil, &DefinitionError{Graph: name, Reason: "empty definition"}
	}
	// First-key-wins entry rule.
	g.entry = g.order[0]

	// Validate edge targets after the whole mapping is known.
	for _, nodeName := range g.order {
		for _, opt := range g.nodes[nodeName].Options {
			if _, ok := g.nodes[opt.Target]; !ok {
				return nil, &DefinitionError{
					Graph:  name,
					Node:   nodeName,
					Reason: fmt.Sprintf("option %q targets unknown node %q", opt.Label, opt.Target),
				}
			}
		}
	}

	return g, nil
}

// parseNode decodes one node mapping, enforcing the two-variant kind rule.
func parseNode(graphName, nodeName string, body *yaml.Node) (*Node, error) {
	if body.Kind != yaml.MappingNode {
		return nil, &DefinitionError{Graph: graphName, Node: nodeName, Reason: "node body must be a mapping"}
	}

	node := &Node{Name: nodeName}
	haveKind := false

	for i := 0; i+1 < len(body.Content); i += 2 {
		key := body.Content[i].Value
		val := body.Content[i+1]
		switch key {
		case "question", "verdict":
			if haveKind {
				return nil, &DefinitionError{Graph: graphName, Node: nodeName,
					Reason: "node declares both question and verdict"}
			}
			haveKind = true
			if key == "question" {
				node.Kind = KindQuestion
			} else {
				node.Kind = KindVerdict
			}
			node.Prompt = val.Value
		case "options":
			if val.Kind != yaml.MappingNode {
				return nil, &DefinitionError{Graph: graphName, Node: nodeName,
					Reason: "options must be a mapping of label to target"}
			}
			seen := make(map[string]bool)
			for j := 0; j+1 < len(val.Content); j += 2 {
				label := val.Content[j].Value
				if seen[label] {
					return nil, &DefinitionError{Graph: graphName, Node: nodeName,
						Reason: fmt.Sprintf("duplicate option label %q", label)}
				}
				seen[label] = true
				node.Options = append(node.Options, Option{
					Label:  label,
					Target: val.Content[j+1].Value,
				})
			}
		case "sidebars":
			if err := val.Decode(&node.Sidebars); err != nil {
				return nil, &DefinitionError{Graph: graphName, Node: nodeName,
					Reason: fmt.Sprintf("invalid sidebars: %v", err)}
			}
		}
	}

	if !haveKind {
		return nil, &DefinitionError{Graph: graphName, Node: nodeName,
			Reason: "node declares neither question nor verdict"}
	}
	return node, nil
}

