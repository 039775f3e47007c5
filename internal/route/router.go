// Package route picks a model tier per node before verification and tracks
// what the run spends. Routing is a first-match rule cascade; the cheapest
// tier that can do the job wins.
package route

import (
	"sync"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

type Tier string

const (
	TierNone Tier = "NONE" // direct DOM parsing, no model call
	TierLow  Tier = "LOW"  // small model
	TierHigh Tier = "HIGH" // large model
)

// Pricing is per 1K tokens, input and output priced separately.
type Pricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

var defaultPrices = map[string]Pricing{
	"gpt-3.5-turbo": {Input: 0.0015, Output: 0.002},
	"gpt-4":         {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
}

type Options struct {
	SmallModel          string
	LargeModel          string
	EscalateAfter       *int     // per-node consecutive failures before HIGH
	ComplexityThreshold *float64 // DOM complexity above which HIGH is forced
	Prices              map[string]Pricing
}

func (o *Options) applyDefaults() {
	if o.SmallModel == "" {
		o.SmallModel = "gpt-3.5-turbo"
	}
	if o.LargeModel == "" {
		o.LargeModel = "gpt-4"
	}
	if o.EscalateAfter == nil {
		v := 3
		o.EscalateAfter = &v
	}
	if o.ComplexityThreshold == nil {
		v := 0.5
		o.ComplexityThreshold = &v
	}
	if o.Prices == nil {
		o.Prices = defaultPrices
	}
}

// Stats is an immutable snapshot of spend so far.
type Stats struct {
	TotalCalls  int            `json:"total_calls"`
	NoneCalls   int            `json:"none_calls"`
	LowCalls    int            `json:"low_calls"`
	HighCalls   int            `json:"high_calls"`
	TotalTokens int            `json:"total_tokens"`
	TotalCost   float64        `json:"total_cost"`
	CostPerCall float64        `json:"cost_per_call"`
	CallsByNode map[string]int `json:"calls_by_node"`
}

type Router struct {
	opts Options

	mu          sync.Mutex
	stats       Stats
	callsByNode map[string]int
	failures    map[string]int
}

func NewRouter(opts Options) *Router {
	opts.applyDefaults()
	return &Router{
		opts:        opts,
		callsByNode: make(map[string]int),
		failures:    make(map[string]int),
	}
}

// SelectTier applies the routing rules in order and returns on the first
// match. Selection is a pure decision; all counters, per-tier included,
// move in RecordCall once the call size is known.
func (r *Router) SelectTier(node *taskgraph.Node, st env.State) Tier {
	r.mu.Lock()
	defer r.mu.Unlock()

	if selfSufficient(node) {
		return TierNone
	}
	if r.failures[node.ID] >= *r.opts.EscalateAfter {
		return TierHigh
	}
	if domComplexity(st) > *r.opts.ComplexityThreshold {
		return TierHigh
	}
	// VERIFY and EXTRACT fit the small model; so does everything left.
	return TierLow
}

// selfSufficient reports whether the node carries enough structure to run
// on direct DOM parsing alone.
func selfSufficient(node *taskgraph.Node) bool {
	switch node.Type {
	case taskgraph.TypeNavigate:
		return node.Param("url", "") != ""
	case taskgraph.TypeCollect:
		return node.Param("selector", "") != ""
	case taskgraph.TypeExtract:
		fields := node.ParamList("fields")
		if len(fields) == 0 {
			return false
		}
		for _, f := range fields {
			m, ok := f.(map[string]any)
			if !ok {
				return false
			}
			if _, ok := m["selector"]; !ok {
				return false
			}
		}
		return true
	case taskgraph.TypeAct:
		return node.Param("target", "") != ""
	}
	return false
}

// domComplexity scores page state into [0, 1]: the mean of element count
// normalized at 1000 and text length normalized at 10000.
func domComplexity(st env.State) float64 {
	elementScore := float64(len(st.List("dom_elements"))) / 1000
	if elementScore > 1 {
		elementScore = 1
	}
	textScore := float64(len(st.String("text_content"))) / 10000
	if textScore > 1 {
		textScore = 1
	}
	return (elementScore + textScore) / 2
}

// RecordFailure counts a verification failure against the node. Enough
// consecutive failures escalate the node's next routing to HIGH.
func (r *Router) RecordFailure(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[nodeID]++
}

// RecordSuccess resets the node's failure count.
func (r *Router) RecordSuccess(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, nodeID)
}

// RecordCall charges a model call to the node. NONE-tier calls count but
// cost nothing. Models missing from the price table accrue tokens but no
// spend.
func (r *Router) RecordCall(tier Tier, nodeID string, inputTokens, outputTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalCalls++
	r.callsByNode[nodeID]++

	var model string
	switch tier {
	case TierLow:
		r.stats.LowCalls++
		model = r.opts.SmallModel
	case TierHigh:
		r.stats.HighCalls++
		model = r.opts.LargeModel
	default:
		r.stats.NoneCalls++
		return
	}
	r.stats.TotalTokens += inputTokens + outputTokens
	if p, ok := r.opts.Prices[model]; ok {
		r.stats.TotalCost += float64(inputTokens)/1000*p.Input + float64(outputTokens)/1000*p.Output
	}
}

// ModelName resolves a tier to the configured model, or "" for NONE.
func (r *Router) ModelName(tier Tier) string {
	switch tier {
	case TierLow:
		return r.opts.SmallModel
	case TierHigh:
		return r.opts.LargeModel
	}
	return ""
}

// Stats returns a snapshot; mutating it does not affect the router.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.CallsByNode = make(map[string]int, len(r.callsByNode))
	for k, v := range r.callsByNode {
		s.CallsByNode[k] = v
	}
	if s.TotalCalls > 0 {
		s.CostPerCall = s.TotalCost / float64(s.TotalCalls)
	}
	return s
}

// Reset clears spend statistics and failure counts.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Stats{}
	r.callsByNode = make(map[string]int)
	r.failures = make(map[string]int)
}
