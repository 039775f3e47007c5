package repair

import (
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

// ComputeRollbackSubgraph returns the minimal node set a repair must
// re-execute, in topological order, plus the rollback depth of the failure
// type's first strategy. The set is the failed node, its ancestors up to
// the rollback depth, and every descendant downstream of it.
func ComputeRollbackSubgraph(g *taskgraph.Graph, failedID string, ft FailureType) ([]string, int) {
	strategy, ok := SelectStrategy(ft, 0)
	if !ok {
		return []string{failedID}, 0
	}
	depth := strategy.RollbackDepth

	keep := map[string]bool{failedID: true}
	for _, id := range ancestors(g, failedID, depth) {
		keep[id] = true
	}
	for _, id := range descendants(g, failedID) {
		keep[id] = true
	}

	order, err := taskgraph.TopologicalOrder(g)
	if err != nil {
		return []string{failedID}, depth
	}
	var out []string
	for _, id := range order {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out, depth
}

// ancestors walks the reverse edges breadth-first, up to depth hops.
func ancestors(g *taskgraph.Graph, nodeID string, depth int) []string {
	if depth <= 0 {
		return nil
	}
	incoming := g.Incoming()
	seen := map[string]bool{}
	var out []string
	level := []string{nodeID}
	for hop := 0; hop < depth; hop++ {
		var next []string
		for _, id := range level {
			for _, parent := range incoming[id] {
				if seen[parent] {
					continue
				}
				seen[parent] = true
				out = append(out, parent)
				next = append(next, parent)
			}
		}
		level = next
	}
	return out
}

// descendants collects everything reachable downstream of nodeID.
func descendants(g *taskgraph.Graph, nodeID string) []string {
	outgoing := g.Outgoing()
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(id string) {
		for _, child := range outgoing[id] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(nodeID)
	return out
}
