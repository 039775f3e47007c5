package taskgraph

import (
	"errors"
	"fmt"
)

// ErrCyclic is returned by TopologicalOrder when Kahn's algorithm cannot
// consume every node, i.e. a residual cycle exists.
var ErrCyclic = errors.New("topological order: graph contains a cycle")

// TopologicalOrder returns a permutation of node ids such that for every edge
// (u, v), u precedes v. Ties between available zero-indegree candidates break
// by original declaration order: the ready queue is seeded and appended in
// declaration order and consumed first-in-first-out, so the order is
// deterministic for a given graph document.
func TopologicalOrder(g *Graph) ([]string, error) {
	adj := g.Outgoing()
	indeg := map[string]int{}
	order := make([]string, 0, len(g.Nodes))
	declared := make([]string, 0, len(g.Nodes))

	for _, n := range g.Nodes {
		if n == nil {
			continue
		}
		declared = append(declared, n.ID)
		indeg[n.ID] = 0
	}
	for _, e := range g.Edges {
		indeg[e.To]++
	}

	var queue []string
	for _, id := range declared {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	// Declaration index lets newly-ready nodes keep declaration order among
	// themselves when several become ready at the same step.
	declIdx := make(map[string]int, len(declared))
	for i, id := range declared {
		declIdx[id] = i
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var ready []string
		for _, next := range adj[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
		for i := 0; i < len(ready); i++ {
			for j := i + 1; j < len(ready); j++ {
				if declIdx[ready[j]] < declIdx[ready[i]] {
					ready[i], ready[j] = ready[j], ready[i]
				}
			}
		}
		queue = append(queue, ready...)
	}

	if len(order) != len(declared) {
		return nil, fmt.Errorf("%w (emitted %d of %d nodes)", ErrCyclic, len(order), len(declared))
	}
	return order, nil
}
