package extractor

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/validation-cli/internal/model"
)

// ErrDependencyCycle is returned when the node dependency graph is not a DAG.
// Cycles are rejected here, at extraction time; downstream checks are defensive.
var ErrDependencyCycle = eris.New("extractor: dependency cycle")

// Graph is the node dependency graph: edges point from a node to the nodes
// whose content its correctness presupposes.
type Graph struct {
	adj model.Adjacency
}

// NewGraph builds a Graph from an adjacency map. Unknown dependency targets
// are kept as-is; Validate catches dangling references.
func NewGraph(adj model.Adjacency) *Graph {
	if adj == nil {
		adj = model.Adjacency{}
	}
	return &Graph{adj: adj}
}

// Adjacency returns the underlying adjacency map for persistence.
func (g *Graph) Adjacency() model.Adjacency {
	return g.adj
}

// Validate checks that every dependency target exists and the graph is acyclic.
func (g *Graph) Validate() error {
	for id, deps := range g.adj {
		for _, dep := range deps {
			if _, ok := g.adj[dep]; !ok {
				return eris.Errorf("extractor: node %s depends on unknown node %s", id, dep)
			}
		}
	}
	if _, err := g.TopoSort(); err != nil {
		return err
	}
	return nil
}

// TopoSort returns node ids in dependency order (dependencies first).
// Deterministic: ties break by lexical id order. Returns ErrDependencyCycle
// when the graph is not a DAG.
func (g *Graph) TopoSort() ([]string, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, layer := range layers {
		out = append(out, layer...)
	}
	return out, nil
}

// Layers returns topological waves: layer 0 has no dependencies, layer N
// depends only on layers < N. Nodes within a layer may be scored concurrently;
// the layer boundary is the topological barrier.
func (g *Graph) Layers() ([][]string, error) {
	indeg := make(map[string]int, len(g.adj))
	dependents := make(map[string][]string, len(g.adj))
	for id, deps := range g.adj {
		if _, ok := indeg[id]; !ok {
			indeg[id] = 0
		}
		for _, dep := range deps {
			indeg[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var frontier []string
	for id, d := range indeg {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	var layers [][]string
	seen := 0
	for len(frontier) > 0 {
		layers = append(layers, frontier)
		seen += len(frontier)

		var next []string
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				indeg[dep]--
				if indeg[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}

	if seen != len(g.adj) {
		return nil, ErrDependencyCycle
	}
	return layers, nil
}

// DependencyClosure returns the transitive set of nodes the given node
// depends on, excluding the node itself.
func (g *Graph) DependencyClosure(id string) map[string]bool {
	closure := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range g.adj[cur] {
			if !closure[dep] {
				closure[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	return closure
}

// DependentsClosure returns changed ∪ every node that transitively depends on
// a member of changed. This is the impact set for selective re-evaluation.
func (g *Graph) DependentsClosure(changed map[string]bool) map[string]bool {
	dependents := make(map[string][]string, len(g.adj))
	for id, deps := range g.adj {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	impact := make(map[string]bool, len(changed))
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range dependents[cur] {
			if !impact[dep] {
				impact[dep] = true
				walk(dep)
			}
		}
	}
	for id := range changed {
		impact[id] = true
		walk(id)
	}
	return impact
}
