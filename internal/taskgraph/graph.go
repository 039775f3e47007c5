package taskgraph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeType is the closed set of step kinds a task graph may contain.
// Adding a kind means adding a constant here and a handler in the executor;
// there is deliberately no string-typed escape hatch.
type NodeType string

const (
	TypeNavigate NodeType = "NAVIGATE"
	TypeCollect  NodeType = "COLLECT"
	TypeExtract  NodeType = "EXTRACT"
	TypeCompute  NodeType = "COMPUTE"
	TypeAct      NodeType = "ACT"
	TypeVerify   NodeType = "VERIFY"
	TypeIterate  NodeType = "ITERATE"
	TypeBranch   NodeType = "BRANCH"
)

// NodeTypes lists every valid node type in declaration order.
var NodeTypes = []NodeType{
	TypeNavigate, TypeCollect, TypeExtract, TypeCompute,
	TypeAct, TypeVerify, TypeIterate, TypeBranch,
}

func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range NodeTypes {
		if t == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("invalid node type: %q", s)
}

func (t NodeType) Valid() bool {
	_, err := ParseNodeType(string(t))
	return err == nil
}

// Node is a single typed step: a goal (what the step should accomplish), a
// predicate (a constrained success assertion evaluated by the verifier), and
// opaque params consumed by the type's handler.
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Goal       string         `json:"goal"`
	Predicate  string         `json:"predicate"`
	Idempotent bool           `json:"idempotent"`
	Params     map[string]any `json:"params,omitempty"`
}

// Param returns the string value of a param key, or def when absent or not a string.
func (n *Node) Param(key, def string) string {
	if n == nil || n.Params == nil {
		return def
	}
	v, ok := n.Params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// ParamInt returns the integer value of a param key, tolerating JSON's
// float64 decoding, or def when absent or not numeric.
func (n *Node) ParamInt(key string, def int) int {
	if n == nil || n.Params == nil {
		return def
	}
	switch v := n.Params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// ParamList returns a param value as a slice, or nil when absent.
func (n *Node) ParamList(key string) []any {
	if n == nil || n.Params == nil {
		return nil
	}
	v, ok := n.Params[key].([]any)
	if !ok {
		return nil
	}
	return v
}

// Edge is an ordered dependency: From must complete before To runs.
type Edge struct {
	From string
	To   string
}

// MarshalJSON encodes an edge in the wire shape [[from, to]].
func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.From, e.To})
}

func (e *Edge) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("edge must be a [from, to] pair, got %d elements", len(pair))
	}
	e.From, e.To = pair[0], pair[1]
	return nil
}

// Graph is the DAG of typed steps to execute. It is treated as immutable once
// validated for an execution pass; repair derives filtered copies via Subgraph
// rather than mutating the original.
type Graph struct {
	TaskID   string         `json:"task_id"`
	Nodes    []*Node        `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Decode parses a task-graph JSON document. Producers that omit task_id get a
// generated one; nothing else is defaulted — structural and semantic
// validation are separate, explicit steps (Schema check, Validate).
func Decode(b []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("decode task graph: %w", err)
	}
	if strings.TrimSpace(g.TaskID) == "" {
		g.TaskID = "task-" + uuid.NewString()
	}
	return &g, nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// Outgoing returns the forward adjacency list: node id -> successor ids, in
// edge declaration order. Every node id appears as a key.
func (g *Graph) Outgoing() map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if n != nil {
			adj[n.ID] = nil
		}
	}
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

// Incoming returns the reverse adjacency list: node id -> predecessor ids.
func (g *Graph) Incoming() map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if n != nil {
			adj[n.ID] = nil
		}
	}
	for _, e := range g.Edges {
		adj[e.To] = append(adj[e.To], e.From)
	}
	return adj
}

// Subgraph derives a new graph restricted to keep, preserving node and edge
// declaration order. Edges with an endpoint outside keep are dropped. The
// derived graph carries a suffixed task id so results are distinguishable
// from the original pass.
func (g *Graph) Subgraph(keep []string) *Graph {
	in := make(map[string]bool, len(keep))
	for _, id := range keep {
		in[id] = true
	}
	sub := &Graph{
		TaskID:   g.TaskID + "_subgraph",
		Metadata: g.Metadata,
	}
	for _, n := range g.Nodes {
		if n != nil && in[n.ID] {
			sub.Nodes = append(sub.Nodes, n)
		}
	}
	for _, e := range g.Edges {
		if in[e.From] && in[e.To] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub
}
