package dag

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

func newGraph(ids ...string) *Graph {
	g := NewGraph()
	for _, id := range ids {
		g.AddNode(id, nil)
	}
	return g
}

func mustEdge(t *testing.T, g *Graph, parent, child string) {
	t.Helper()
	if err := g.AddEdge(parent, child); err != nil {
		t.Fatalf("failed to add edge %s -> %s: %v", parent, child, err)
	}
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := newGraph("a", "b", "c")

	mustEdge(t, g, "a", "b")
	mustEdge(t, g, "b", "c")

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}
	if !g.HasEdge("a", "b") || g.HasEdge("b", "a") {
		t.Error("edge direction not preserved")
	}
}

func TestGraph_AddNode_KeepsPosition(t *testing.T) {
	g := newGraph("a", "b")
	g.AddNode("a", "updated")

	if got := g.Nodes(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
	node, _ := g.GetNode("a")
	if node.Data != "updated" {
		t.Errorf("expected data to be updated, got %v", node.Data)
	}
}

func TestGraph_AddEdge_InvalidNodes(t *testing.T) {
	g := newGraph("a")

	if err := g.AddEdge("a", "nonexistent"); err == nil {
		t.Error("expected error for nonexistent child node")
	}
	if err := g.AddEdge("nonexistent", "a"); err == nil {
		t.Error("expected error for nonexistent parent node")
	}
	if err := g.AddEdge("a", "a"); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestGraph_DuplicateEdges(t *testing.T) {
	g := newGraph("a", "b")
	mustEdge(t, g, "a", "b")
	mustEdge(t, g, "a", "b")

	if g.EdgeCount() != 1 {
		t.Errorf("expected 1 edge (no duplicates), got %d", g.EdgeCount())
	}
}

func TestGraph_ParentsAndChildren_InsertionOrder(t *testing.T) {
	g := newGraph("a", "b", "c")
	mustEdge(t, g, "b", "c")
	mustEdge(t, g, "a", "c")
	mustEdge(t, g, "a", "b")

	if got := g.Parents("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected parents [a b], got %v", got)
	}
	if got := g.Children("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("expected children [b c], got %v", got)
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := newGraph("a", "b", "c")
	mustEdge(t, g, "a", "b")
	mustEdge(t, g, "b", "c")

	if hasCycle, path := g.HasCycle(); hasCycle {
		t.Errorf("expected no cycle, but found: %v", path)
	}

	mustEdge(t, g, "c", "a")
	hasCycle, path := g.HasCycle()
	if !hasCycle {
		t.Fatal("expected cycle to be detected")
	}
	if want := []string{"a", "b", "c", "a"}; !reflect.DeepEqual(path, want) {
		t.Errorf("expected cycle path %v, got %v", want, path)
	}
}

func TestGraph_TopologicalSort_DeclarationTieBreak(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{
			name:  "no edges keeps insertion order",
			nodes: []string{"c", "a", "b"},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "chain against insertion order",
			nodes: []string{"c", "b", "a"},
			edges: [][2]string{{"a", "b"}, {"b", "c"}},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "diamond",
			nodes: []string{"d", "c", "b", "a"},
			edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
			want:  []string{"a", "c", "b", "d"},
		},
		{
			name:  "ready node declared earlier wins",
			nodes: []string{"x", "y", "z"},
			edges: [][2]string{{"z", "x"}},
			want:  []string{"y", "z", "x"},
		},
		{
			name:  "disconnected chains",
			nodes: []string{"a", "b", "c", "d"},
			edges: [][2]string{{"a", "b"}, {"c", "d"}},
			want:  []string{"a", "b", "c", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGraph(tt.nodes...)
			for _, e := range tt.edges {
				mustEdge(t, g, e[0], e[1])
			}

			got, err := g.TopologicalSort()
			if err != nil {
				t.Fatalf("failed to sort: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGraph_TopologicalSort_WithCycle(t *testing.T) {
	g := newGraph("a", "b", "c")
	mustEdge(t, g, "a", "b")
	mustEdge(t, g, "b", "a")

	order, err := g.TopologicalSort()
	if order != nil {
		t.Errorf("expected no partial order, got %v", order)
	}
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if want := []string{"a", "b", "a"}; !reflect.DeepEqual(cerr.Path, want) {
		t.Errorf("expected path %v, got %v", want, cerr.Path)
	}
}

// randomDAG builds an acyclic graph by only adding edges from a lower to a
// higher index of a shuffled permutation.
func randomDAG(r *rand.Rand, n int, density float64) *Graph {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
	}
	g := newGraph(ids...)
	perm := r.Perm(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if r.Float64() < density {
				_ = g.AddEdge(ids[perm[i]], ids[perm[j]])
			}
		}
	}
	return g
}

func TestGraph_TopologicalSort_RespectsEveryEdge(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		g := randomDAG(r, 12, 0.25)

		order, err := g.TopologicalSort()
		if err != nil {
			t.Fatalf("round %d: failed to sort: %v", round, err)
		}
		if len(order) != g.NodeCount() {
			t.Fatalf("round %d: expected %d nodes, got %d", round, g.NodeCount(), len(order))
		}

		pos := make(map[string]int, len(order))
		for i, id := range order {
			pos[id] = i
		}
		for _, parent := range g.Nodes() {
			for _, child := range g.Children(parent) {
				if pos[parent] >= pos[child] {
					t.Errorf("round %d: %s must precede %s in %v", round, parent, child, order)
				}
			}
		}

		again, _ := g.TopologicalSort()
		if !reflect.DeepEqual(order, again) {
			t.Errorf("round %d: sort is not deterministic: %v vs %v", round, order, again)
		}
	}
}

func TestGraph_ExecutionLevels(t *testing.T) {
	g := newGraph("raw1", "raw2", "flow1", "flow2", "sink")
	mustEdge(t, g, "raw1", "flow1")
	mustEdge(t, g, "raw2", "flow2")
	mustEdge(t, g, "flow1", "sink")
	mustEdge(t, g, "flow2", "sink")

	levels, err := g.ExecutionLevels()
	if err != nil {
		t.Fatalf("failed to get levels: %v", err)
	}
	want := [][]string{{"raw1", "raw2"}, {"flow1", "flow2"}, {"sink"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("expected %v, got %v", want, levels)
	}
}

func TestGraph_DownstreamAndUpstream(t *testing.T) {
	g := newGraph("a", "b", "c", "d")
	mustEdge(t, g, "a", "b")
	mustEdge(t, g, "b", "c")

	if got := g.Downstream("a"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("expected [a b c], got %v", got)
	}
	if got := g.Upstream("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
	if got := g.Upstream("d"); len(got) != 0 {
		t.Errorf("expected no upstream nodes for d, got %v", got)
	}
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := newGraph("a", "b", "c")
	mustEdge(t, g, "a", "c")
	mustEdge(t, g, "b", "c")

	if got := g.Roots(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected roots [a b], got %v", got)
	}
	if got := g.Leaves(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("expected leaves [c], got %v", got)
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", "A")
	g.AddNode("b", "B")
	g.AddNode("c", "C")
	g.AddNode("d", "D")
	mustEdge(t, g, "a", "b")
	mustEdge(t, g, "b", "c")
	mustEdge(t, g, "c", "d")

	sub := g.Subgraph([]string{"c", "b"})

	if sub.NodeCount() != 2 {
		t.Errorf("expected 2 nodes, got %d", sub.NodeCount())
	}
	if sub.EdgeCount() != 1 {
		t.Errorf("expected 1 edge, got %d", sub.EdgeCount())
	}
	if got := sub.Nodes(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("expected insertion order [b c], got %v", got)
	}
	node, _ := sub.GetNode("b")
	if node.Data != "B" {
		t.Errorf("expected data to be carried over, got %v", node.Data)
	}
}
