package taskgraph

import "testing"

func node(id string, typ NodeType) *Node {
	return &Node{ID: id, Type: typ, Goal: "goal " + id, Predicate: "true"}
}

func linearGraph(ids ...string) *Graph {
	g := &Graph{TaskID: "t1"}
	for _, id := range ids {
		g.Nodes = append(g.Nodes, node(id, TypeNavigate))
	}
	for i := 0; i+1 < len(ids); i++ {
		g.Edges = append(g.Edges, Edge{From: ids[i], To: ids[i+1]})
	}
	return g
}

func findRule(diags []Diagnostic, rule string) *Diagnostic {
	for i := range diags {
		if diags[i].Rule == rule {
			return &diags[i]
		}
	}
	return nil
}

func TestValidateCleanGraph(t *testing.T) {
	g := linearGraph("a", "b", "c")
	diags := Validate(g)
	if hasError(diags) {
		t.Fatalf("unexpected errors: %+v", diags)
	}
}

func TestValidateMissingFields(t *testing.T) {
	g := &Graph{TaskID: "t1", Nodes: []*Node{{ID: "", Type: TypeNavigate, Goal: "g"}}}
	diags := Validate(g)
	if findRule(diags, "missing_field") == nil {
		t.Fatalf("expected missing_field, got %+v", diags)
	}
}

func TestValidateInvalidType(t *testing.T) {
	g := &Graph{TaskID: "t1", Nodes: []*Node{{ID: "a", Type: "TELEPORT", Goal: "g"}}}
	diags := Validate(g)
	d := findRule(diags, "invalid_type")
	if d == nil || d.NodeID != "a" {
		t.Fatalf("expected invalid_type on a, got %+v", diags)
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	g := &Graph{TaskID: "t1", Nodes: []*Node{node("a", TypeNavigate), node("a", TypeCollect)}}
	if findRule(Validate(g), "duplicate_id") == nil {
		t.Fatal("expected duplicate_id")
	}
}

func TestValidateDanglingEdge(t *testing.T) {
	g := linearGraph("a", "b")
	g.Edges = append(g.Edges, Edge{From: "b", To: "ghost"})
	d := findRule(Validate(g), "dangling_edge")
	if d == nil || d.EdgeTo != "ghost" {
		t.Fatalf("expected dangling_edge to ghost, got %+v", Validate(g))
	}
}

func TestValidateCycle(t *testing.T) {
	g := linearGraph("a", "b", "c")
	g.Edges = append(g.Edges, Edge{From: "c", To: "a"})
	if findRule(Validate(g), "cycle") == nil {
		t.Fatal("expected cycle diagnostic")
	}
}

func TestValidateMultipleRoots(t *testing.T) {
	// Every zero-indegree node is a start, so a second root is legal.
	g := linearGraph("a", "b")
	g.Nodes = append(g.Nodes, node("island", TypeCompute))
	diags := Validate(g)
	if hasError(diags) {
		t.Fatalf("unexpected errors: %+v", diags)
	}
}

func TestValidateWithFixDropsBackEdge(t *testing.T) {
	g := linearGraph("a", "b", "c")
	g.Edges = append(g.Edges, Edge{From: "c", To: "a"})

	fixed, ok, diags := ValidateWithFix(g, true)
	if !ok {
		t.Fatalf("auto-fix failed: %+v", diags)
	}
	if fixed == g {
		t.Fatal("auto-fix must return a derived graph, not the original")
	}
	if len(fixed.Edges) != 2 {
		t.Fatalf("expected 2 edges after fix, got %d", len(fixed.Edges))
	}
	if len(g.Edges) != 3 {
		t.Fatal("original graph must not be mutated")
	}
	if _, err := TopologicalOrder(fixed); err != nil {
		t.Fatalf("fixed graph still cyclic: %v", err)
	}
}

func TestValidateWithFixDisabled(t *testing.T) {
	g := linearGraph("a", "b")
	g.Edges = append(g.Edges, Edge{From: "b", To: "a"})
	_, ok, diags := ValidateWithFix(g, false)
	if ok {
		t.Fatal("cycle without auto-fix must fail")
	}
	if findRule(diags, "cycle") == nil {
		t.Fatalf("expected cycle diagnostic, got %+v", diags)
	}
}
