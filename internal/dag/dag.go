// Package dag provides directed acyclic graph operations for process dependencies.
// It supports cycle detection and a deterministic topological sort that breaks
// ties by node insertion order.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycleDetected is matched by every *CycleError.
var ErrCycleDetected = errors.New("cycle detected")

// CycleError names the nodes participating in a cycle. The first node is
// repeated at the end of Path.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (process name)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph represents a directed acyclic graph.
type Graph struct {
	nodes   map[string]*Node
	order   []string            // insertion order, used as the tie-break
	rank    map[string]int      // id -> position in order
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		rank:    make(map[string]int),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Re-adding a node updates its data and
// keeps its original position.
func (g *Graph) AddNode(id string, data any) {
	if node, exists := g.nodes[id]; exists {
		node.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.rank[id] = len(g.order)
	g.order = append(g.order, id)
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// HasEdge reports whether child directly depends on parent.
func (g *Graph) HasEdge(parentID, childID string) bool {
	return contains(g.edges[parentID], childID)
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Parents returns the direct dependencies of a node in insertion order.
func (g *Graph) Parents(id string) []string {
	return g.sorted(g.parents[id])
}

// Children returns the direct dependents of a node in insertion order.
func (g *Graph) Children(id string) []string {
	return g.sorted(g.edges[id])
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
// Nodes are visited in insertion order so the reported path is stable.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.Children(id) {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// TopologicalSort returns node IDs with every dependency before its
// dependents. Among nodes whose dependencies are all placed, the one
// inserted first comes first. A cyclic graph yields a *CycleError and no
// partial order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, &CycleError{Path: cyclePath}
	}

	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.parents[id])
	}

	placed := make([]bool, len(g.order))
	result := make([]string, 0, len(g.order))
	for len(result) < len(g.order) {
		// The lowest-ranked ready node. Graphs here hold a handful of
		// processes so a linear scan is fine.
		next := -1
		for i, id := range g.order {
			if !placed[i] && indegree[id] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			// unreachable once HasCycle has passed
			return nil, &CycleError{Path: g.remaining(placed)}
		}
		placed[next] = true
		id := g.order[next]
		result = append(result, id)
		for _, childID := range g.edges[id] {
			indegree[childID]--
		}
	}
	return result, nil
}

// ExecutionLevels returns nodes grouped by execution level.
// Nodes at level N only depend on nodes at levels below N.
// Level 0 contains nodes with no dependencies.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]int, len(order))
	maxLevel := 0
	for _, id := range order {
		level := 0
		for _, parentID := range g.parents[id] {
			if l := assigned[parentID] + 1; l > level {
				level = l
			}
		}
		assigned[id] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	if len(order) == 0 {
		return [][]string{}, nil
	}
	levels := make([][]string, maxLevel+1)
	for _, id := range g.order {
		levels[assigned[id]] = append(levels[assigned[id]], id)
	}
	return levels, nil
}

// Downstream returns the given nodes and everything that depends on them,
// in insertion order.
func (g *Graph) Downstream(ids ...string) []string {
	affected := make(map[string]bool)

	var mark func(id string)
	mark = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, childID := range g.edges[id] {
			mark(childID)
		}
	}

	for _, id := range ids {
		if _, exists := g.nodes[id]; exists {
			mark(id)
		}
	}
	return g.filter(affected)
}

// Upstream returns every transitive dependency of id, in insertion order.
func (g *Graph) Upstream(id string) []string {
	upstream := make(map[string]bool)

	var mark func(nodeID string)
	mark = func(nodeID string) {
		for _, parentID := range g.parents[nodeID] {
			if !upstream[parentID] {
				upstream[parentID] = true
				mark(parentID)
			}
		}
	}

	mark(id)
	return g.filter(upstream)
}

// Roots returns nodes with no dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns nodes with no dependents.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Subgraph returns a new graph containing only the specified nodes and the
// edges between them. Relative insertion order is preserved.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	keep := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		keep[id] = true
	}

	subgraph := NewGraph()
	for _, id := range g.order {
		if keep[id] {
			subgraph.AddNode(id, g.nodes[id].Data)
		}
	}
	for _, id := range subgraph.order {
		for _, childID := range g.edges[id] {
			if keep[childID] {
				_ = subgraph.AddEdge(id, childID)
			}
		}
	}
	return subgraph
}

func (g *Graph) sorted(ids []string) []string {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return g.filter(set)
}

func (g *Graph) filter(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for _, id := range g.order {
		if set[id] {
			result = append(result, id)
		}
	}
	return result
}

func (g *Graph) remaining(placed []bool) []string {
	var ids []string
	for i, id := range g.order {
		if !placed[i] {
			ids = append(ids, id)
		}
	}
	return ids
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
