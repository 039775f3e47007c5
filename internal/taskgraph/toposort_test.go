package taskgraph

import (
	"errors"
	"testing"
)

func orderIndex(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return idx
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	g := &Graph{
		TaskID: "t1",
		Nodes: []*Node{
			node("collect", TypeCollect),
			node("nav", TypeNavigate),
			node("extract", TypeExtract),
			node("compute", TypeCompute),
		},
		Edges: []Edge{
			{From: "nav", To: "collect"},
			{From: "collect", To: "extract"},
			{From: "collect", To: "compute"},
		},
	}
	order, err := TopologicalOrder(g)
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 nodes, got %v", order)
	}
	idx := orderIndex(order)
	for _, e := range g.Edges {
		if idx[e.From] >= idx[e.To] {
			t.Fatalf("edge %s -> %s violated in %v", e.From, e.To, order)
		}
	}
}

func TestTopologicalOrderDeterministicTieBreak(t *testing.T) {
	// Both leaves become ready together; declaration order must decide.
	g := &Graph{
		TaskID: "t1",
		Nodes: []*Node{
			node("root", TypeNavigate),
			node("z_leaf", TypeCollect),
			node("a_leaf", TypeCollect),
		},
		Edges: []Edge{
			{From: "root", To: "z_leaf"},
			{From: "root", To: "a_leaf"},
		},
	}
	first, err := TopologicalOrder(g)
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	want := []string{"root", "z_leaf", "a_leaf"}
	for i, id := range want {
		if first[i] != id {
			t.Fatalf("expected %v, got %v", want, first)
		}
	}
	for i := 0; i < 10; i++ {
		again, err := TopologicalOrder(g)
		if err != nil {
			t.Fatalf("TopologicalOrder: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("order changed between runs: %v vs %v", first, again)
			}
		}
	}
}

func TestTopologicalOrderCycle(t *testing.T) {
	g := linearGraph("a", "b")
	g.Edges = append(g.Edges, Edge{From: "b", To: "a"})
	if _, err := TopologicalOrder(g); !errors.Is(err, ErrCyclic) {
		t.Fatalf("expected ErrCyclic, got %v", err)
	}
}
