package dag

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Validate checks a graph's structure: node IDs must be unique and
// non-empty, every edge endpoint must name a known node, and the edge set
// must be acyclic. Returns node IDs in topological order.
func Validate(nodes []*Node, edges []Edge) ([]string, error) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node %q has no id", n.Title)
		}
		if known[n.ID] {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		if !n.Type.IsValid() {
			return nil, fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
		known[n.ID] = true
	}

	incoming := make(map[string]int, len(nodes))
	for _, e := range edges {
		if !known[e.From] {
			return nil, fmt.Errorf("edge %s -> %s references unknown node %q", e.From, e.To, e.From)
		}
		if !known[e.To] {
			return nil, fmt.Errorf("edge %s -> %s references unknown node %q", e.From, e.To, e.To)
		}
		incoming[e.To]++
	}

	// Build edges for topological sort. Roots get an edge from nil so
	// they are included in the result.
	var sortEdges []toposort.Edge
	for _, n := range nodes {
		if incoming[n.ID] == 0 {
			sortEdges = append(sortEdges, toposort.Edge{nil, n.ID})
		}
	}
	for _, e := range edges {
		sortEdges = append(sortEdges, toposort.Edge{e.From, e.To})
	}

	sorted, err := toposort.Toposort(sortEdges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(nodes) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, n := range nodes {
			if !found[n.ID] {
				missing = append(missing, n.ID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d nodes: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}
