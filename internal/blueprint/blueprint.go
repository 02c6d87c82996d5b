// Package blueprint loads workflow definitions from YAML and compiles
// them into graph seeds for the executor.
//
// A definition names its nodes and wires them with either an explicit
// edge list or the per-node "after" shorthand:
//
//	name: release
//	nodes:
//	  - id: build
//	  - id: test
//	    after: [build]
//	  - id: ship
//	    type: gate
//	    gate: manual
//	    after: [test]
package blueprint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/foremanlabs/foreman/internal/dag"
)

// Definition is the YAML shape of a workflow file.
type Definition struct {
	Name         string    `yaml:"name"`
	Project      string    `yaml:"project,omitempty"`
	ApprovalMode string    `yaml:"approval_mode,omitempty"`
	Nodes        []NodeDef `yaml:"nodes"`
	Edges        []EdgeDef `yaml:"edges,omitempty"`
}

// NodeDef is one node in a workflow file. After lists node ids this node
// depends on, as a shorthand for explicit edges.
type NodeDef struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type,omitempty"`
	Title    string   `yaml:"title,omitempty"`
	Briefing string   `yaml:"briefing,omitempty"`
	Role     string   `yaml:"role,omitempty"`
	Gate     string   `yaml:"gate,omitempty"`
	After    []string `yaml:"after,omitempty"`
}

// EdgeDef is an explicit edge in a workflow file.
type EdgeDef struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Blueprint is a compiled workflow ready to register with the executor.
type Blueprint struct {
	Name    string
	Project string
	Mode    dag.ApprovalMode
	Nodes   []*dag.Node
	Edges   []dag.Edge
}

// Load reads and compiles a workflow file.
func Load(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	bp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bp, nil
}

// Parse compiles workflow YAML.
func Parse(data []byte) (*Blueprint, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return def.Build()
}

// Build compiles the definition: node defaults are filled in, the after
// shorthand becomes edges, and the resulting graph is validated.
func (d *Definition) Build() (*Blueprint, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("workflow has no name")
	}
	if len(d.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %q has no nodes", d.Name)
	}

	mode := dag.ApprovalMode(d.ApprovalMode)
	if mode == "" {
		mode = dag.ApprovalManual
	}
	if mode != dag.ApprovalManual && mode != dag.ApprovalAuto {
		return nil, fmt.Errorf("workflow %q has unknown approval mode %q", d.Name, d.ApprovalMode)
	}

	nodes := make([]*dag.Node, 0, len(d.Nodes))
	var edges []dag.Edge
	for _, nd := range d.Nodes {
		node, err := nd.build()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		for _, from := range nd.After {
			edges = append(edges, dag.Edge{From: from, To: nd.ID})
		}
	}
	for _, ed := range d.Edges {
		edges = append(edges, dag.Edge{From: ed.From, To: ed.To})
	}

	if _, err := dag.Validate(nodes, edges); err != nil {
		return nil, err
	}

	return &Blueprint{
		Name:    d.Name,
		Project: d.Project,
		Mode:    mode,
		Nodes:   nodes,
		Edges:   edges,
	}, nil
}

func (nd NodeDef) build() (*dag.Node, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("node %q has no id", nd.Title)
	}

	typ := dag.NodeType(nd.Type)
	if typ == "" {
		typ = dag.NodeTask
	}
	if !typ.IsValid() {
		return nil, fmt.Errorf("node %q has unknown type %q", nd.ID, nd.Type)
	}

	gate := dag.GateCondition(nd.Gate)
	if gate != "" {
		if typ != dag.NodeGate {
			return nil, fmt.Errorf("node %q sets a gate condition but is type %s", nd.ID, typ)
		}
		if !gate.IsValid() {
			return nil, fmt.Errorf("gate %q has unknown condition %q", nd.ID, nd.Gate)
		}
	}

	title := nd.Title
	if title == "" {
		title = nd.ID
	}

	return &dag.Node{
		ID:       nd.ID,
		Type:     typ,
		Title:    title,
		Briefing: nd.Briefing,
		Role:     nd.Role,
		Gate:     gate,
		Status:   dag.NodePending,
	}, nil
}
