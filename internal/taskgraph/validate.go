package taskgraph

import (
	"fmt"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Diagnostic is one validation finding. Rule names are stable identifiers
// callers can match on: missing_field, invalid_type, duplicate_id,
// dangling_edge, cycle, unreachable_node, no_start_node, auto_fix_exhausted.
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeFrom string   `json:"edge_from,omitempty"`
	EdgeTo   string   `json:"edge_to,omitempty"`
}

// Validate runs all semantic rules against the graph, in dependency order:
// node shape, type membership, id uniqueness, edge endpoints, acyclicity,
// reachability. Later rules assume earlier ones passed, so rule groups after
// the first error-producing group are skipped.
func Validate(g *Graph) []Diagnostic {
	if g == nil {
		return []Diagnostic{{Rule: "graph_nil", Severity: SeverityError, Message: "graph is nil"}}
	}
	if len(g.Nodes) == 0 {
		return []Diagnostic{{Rule: "missing_field", Severity: SeverityError, Message: "graph has no nodes"}}
	}

	diags := lintNodeFields(g)
	diags = append(diags, lintNodeTypes(g)...)
	diags = append(diags, lintDuplicateIDs(g)...)
	if hasError(diags) {
		return diags
	}
	diags = append(diags, lintEdgeEndpoints(g)...)
	if hasError(diags) {
		return diags
	}
	diags = append(diags, lintAcyclic(g)...)
	if hasError(diags) {
		return diags
	}
	diags = append(diags, lintReachability(g)...)
	return diags
}

// ValidateWithFix validates g, and when a cycle is the only blocking problem
// and autoFix is set, derives a copy with the offending back-edges removed and
// validates once more. The returned graph is the one callers should execute:
// g itself when no fix was applied, the repaired copy otherwise. A second
// failure reports auto_fix_exhausted rather than retrying again.
func ValidateWithFix(g *Graph, autoFix bool) (*Graph, bool, []Diagnostic) {
	diags := Validate(g)
	if !hasError(diags) {
		return g, true, diags
	}
	if !autoFix || !hasRule(diags, "cycle") {
		return g, false, diags
	}

	fixed, dropped := dropBackEdges(g)
	if len(dropped) == 0 {
		diags = append(diags, Diagnostic{
			Rule:     "auto_fix_exhausted",
			Severity: SeverityError,
			Message:  "cycle detected but no removable back-edge found",
		})
		return g, false, diags
	}
	refixed := Validate(fixed)
	if hasError(refixed) {
		refixed = append(refixed, Diagnostic{
			Rule:     "auto_fix_exhausted",
			Severity: SeverityError,
			Message:  fmt.Sprintf("graph still invalid after dropping %d back-edge(s)", len(dropped)),
		})
		return g, false, refixed
	}
	for _, e := range dropped {
		refixed = append(refixed, Diagnostic{
			Rule:     "cycle",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("auto-fix dropped back-edge %s -> %s", e.From, e.To),
			EdgeFrom: e.From,
			EdgeTo:   e.To,
		})
	}
	return fixed, true, refixed
}

func hasError(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func hasRule(diags []Diagnostic, rule string) bool {
	for _, d := range diags {
		if d.Rule == rule {
			return true
		}
	}
	return false
}

func lintNodeFields(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for i, n := range g.Nodes {
		if n == nil {
			diags = append(diags, Diagnostic{
				Rule:     "missing_field",
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %d is null", i),
			})
			continue
		}
		var missing []string
		if strings.TrimSpace(n.ID) == "" {
			missing = append(missing, "id")
		}
		if strings.TrimSpace(string(n.Type)) == "" {
			missing = append(missing, "type")
		}
		if strings.TrimSpace(n.Goal) == "" {
			missing = append(missing, "goal")
		}
		if strings.TrimSpace(n.Predicate) == "" {
			missing = append(missing, "predicate")
		}
		if len(missing) > 0 {
			diags = append(diags, Diagnostic{
				Rule:     "missing_field",
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %d missing fields: %s", i, strings.Join(missing, ", ")),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func lintNodeTypes(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.Nodes {
		if n == nil || strings.TrimSpace(string(n.Type)) == "" {
			continue
		}
		if !n.Type.Valid() {
			diags = append(diags, Diagnostic{
				Rule:     "invalid_type",
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %s has invalid type %q", n.ID, n.Type),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func lintDuplicateIDs(g *Graph) []Diagnostic {
	var diags []Diagnostic
	seen := map[string]bool{}
	for _, n := range g.Nodes {
		if n == nil || n.ID == "" {
			continue
		}
		if seen[n.ID] {
			diags = append(diags, Diagnostic{
				Rule:     "duplicate_id",
				Severity: SeverityError,
				Message:  fmt.Sprintf("duplicate node id: %s", n.ID),
				NodeID:   n.ID,
			})
		}
		seen[n.ID] = true
	}
	return diags
}

func lintEdgeEndpoints(g *Graph) []Diagnostic {
	var diags []Diagnostic
	ids := map[string]bool{}
	for _, n := range g.Nodes {
		if n != nil {
			ids[n.ID] = true
		}
	}
	for _, e := range g.Edges {
		if !ids[e.From] {
			diags = append(diags, Diagnostic{
				Rule:     "dangling_edge",
				Severity: SeverityError,
				Message:  fmt.Sprintf("edge references unknown node: %s", e.From),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
		if !ids[e.To] {
			diags = append(diags, Diagnostic{
				Rule:     "dangling_edge",
				Severity: SeverityError,
				Message:  fmt.Sprintf("edge references unknown node: %s", e.To),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	return diags
}

// lintAcyclic runs a depth-first search with a recursion-stack set; an edge
// back into the stack is a cycle.
func lintAcyclic(g *Graph) []Diagnostic {
	adj := g.Outgoing()
	visited := map[string]bool{}
	onStack := map[string]bool{}

	var cycleAt string
	var walk func(id string) bool
	walk = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range adj[id] {
			if !visited[next] {
				if walk(next) {
					return true
				}
			} else if onStack[next] {
				cycleAt = next
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, n := range g.Nodes {
		if n == nil || visited[n.ID] {
			continue
		}
		if walk(n.ID) {
			return []Diagnostic{{
				Rule:     "cycle",
				Severity: SeverityError,
				Message:  fmt.Sprintf("graph contains a cycle through node %s", cycleAt),
				NodeID:   cycleAt,
			}}
		}
	}
	return nil
}

// lintReachability breadth-first traverses forward edges from the
// zero-indegree set. When no node has indegree zero (possible only alongside
// a cycle, which earlier rules catch, but kept defensive for derived graphs),
// the first declared node seeds the traversal and a warning is emitted.
func lintReachability(g *Graph) []Diagnostic {
	var diags []Diagnostic
	adj := g.Outgoing()
	indeg := map[string]int{}
	for _, n := range g.Nodes {
		if n != nil {
			indeg[n.ID] = 0
		}
	}
	for _, e := range g.Edges {
		indeg[e.To]++
	}

	var starts []string
	for _, n := range g.Nodes {
		if n != nil && indeg[n.ID] == 0 {
			starts = append(starts, n.ID)
		}
	}
	if len(starts) == 0 {
		diags = append(diags, Diagnostic{
			Rule:     "no_start_node",
			Severity: SeverityWarning,
			Message:  "no zero-indegree start node; using first declared node",
		})
		starts = []string{g.Nodes[0].ID}
	}

	reached := map[string]bool{}
	queue := append([]string{}, starts...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		queue = append(queue, adj[id]...)
	}

	var unreachable []string
	for _, n := range g.Nodes {
		if n != nil && !reached[n.ID] {
			unreachable = append(unreachable, n.ID)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		diags = append(diags, Diagnostic{
			Rule:     "unreachable_node",
			Severity: SeverityError,
			Message:  fmt.Sprintf("unreachable nodes: %s", strings.Join(unreachable, ", ")),
		})
	}
	return diags
}

// dropBackEdges derives a copy of g without the back-edges found by DFS,
// preserving everything else. Returns the copy and the dropped edges.
func dropBackEdges(g *Graph) (*Graph, []Edge) {
	adj := g.Outgoing()
	visited := map[string]bool{}
	onStack := map[string]bool{}
	drop := map[Edge]bool{}

	var walk func(id string)
	walk = func(id string) {
		visited[id] = true
		onStack[id] = true
		for _, next := range adj[id] {
			if onStack[next] {
				drop[Edge{From: id, To: next}] = true
				continue
			}
			if !visited[next] {
				walk(next)
			}
		}
		onStack[id] = false
	}
	for _, n := range g.Nodes {
		if n != nil && !visited[n.ID] {
			walk(n.ID)
		}
	}
	if len(drop) == 0 {
		return g, nil
	}

	fixed := &Graph{TaskID: g.TaskID, Nodes: g.Nodes, Metadata: g.Metadata}
	var dropped []Edge
	for _, e := range g.Edges {
		if drop[e] {
			dropped = append(dropped, e)
			continue
		}
		fixed.Edges = append(fixed.Edges, e)
	}
	return fixed, dropped
}
