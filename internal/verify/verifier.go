// Package verify scores node outcomes across two evidence channels plus a
// consistency check. The hard channel is mechanical and deterministic; the
// soft channel consults an oracle when the routed tier permits one. Scores
// are additive and confidence never exceeds 1.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/route"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

type Result struct {
	Confidence       float64        `json:"confidence"`
	HardScore        float64        `json:"hard_score"`
	SoftScore        float64        `json:"soft_score"`
	ConsistencyScore float64        `json:"consistency_score"`
	Passed           bool           `json:"passed"`
	Details          map[string]any `json:"details"`
}

// Weights are the channel maxima. Channel scores are scaled into
// [0, weight] so confidence is their plain sum.
type Options struct {
	HardWeight        *float64
	SoftWeight        *float64
	ConsistencyWeight *float64
	Threshold         *float64
	Oracle            Oracle
	TextExcerptLen    *int
}

func (o *Options) applyDefaults() {
	if o.HardWeight == nil {
		v := 0.6
		o.HardWeight = &v
	}
	if o.SoftWeight == nil {
		v := 0.3
		o.SoftWeight = &v
	}
	if o.ConsistencyWeight == nil {
		v := 0.1
		o.ConsistencyWeight = &v
	}
	if o.Threshold == nil {
		v := 0.7
		o.Threshold = &v
	}
	if o.Oracle == nil {
		o.Oracle = KeywordOracle{}
	}
	if o.TextExcerptLen == nil {
		v := 500
		o.TextExcerptLen = &v
	}
}

type DualVerifier struct {
	opts Options
}

func NewDualVerifier(opts Options) *DualVerifier {
	opts.applyDefaults()
	return &DualVerifier{opts: opts}
}

func (v *DualVerifier) Threshold() float64 { return *v.opts.Threshold }

// Verify scores the node's outcome against the evidence snapshot in st.
// The tier gates oracle use only; the hard and consistency channels always
// run. Verify never mutates st.
func (v *DualVerifier) Verify(ctx context.Context, node *taskgraph.Node, st env.State, tier route.Tier) Result {
	details := map[string]any{
		"node_id":   node.ID,
		"node_type": string(node.Type),
		"threshold": *v.opts.Threshold,
	}

	hard := *v.opts.HardWeight * v.hardFraction(node, st, details)
	soft := *v.opts.SoftWeight * v.softFraction(ctx, node, st, tier, details)
	cons := *v.opts.ConsistencyWeight * v.consistencyFraction(node, st, details)

	confidence := hard + soft + cons
	return Result{
		Confidence:       confidence,
		HardScore:        hard,
		SoftScore:        soft,
		ConsistencyScore: cons,
		Passed:           confidence+thresholdEpsilon >= *v.opts.Threshold,
		Details:          details,
	}
}

// thresholdEpsilon absorbs float accumulation error so a run scoring full
// channel marks is not failed by the last bit of a sum of quotients.
const thresholdEpsilon = 1e-9

// Hard-channel point shares. They sum to 1 and match the documented
// 0.2/0.15/0.15/0.1 split at the default 0.6 weight.
const (
	hardShareURL   = 0.2 / 0.6
	hardShareTitle = 0.15 / 0.6
	hardShareDOM   = 0.15 / 0.6
	hardShareType  = 0.1 / 0.6
)

func (v *DualVerifier) hardFraction(node *taskgraph.Node, st env.State, details map[string]any) float64 {
	clauses := parsePredicate(node.Predicate)
	var earned float64
	var checks []string

	if hasClauses(clauses, "url") && matchClauses(clauses, "url", st.String("url")) {
		earned += hardShareURL
		checks = append(checks, "url")
	}
	if hasClauses(clauses, "title") && matchClauses(clauses, "title", st.String("title")) {
		earned += hardShareTitle
		checks = append(checks, "title")
	}
	if len(st.List("dom_elements")) > 0 {
		earned += hardShareDOM
		checks = append(checks, "dom")
	}
	if v.typeEvidence(node, st) {
		earned += hardShareType
		checks = append(checks, "type:"+strings.ToLower(string(node.Type)))
	}
	details["hard_checks"] = checks
	return earned
}

func (v *DualVerifier) typeEvidence(node *taskgraph.Node, st env.State) bool {
	switch node.Type {
	case taskgraph.TypeExtract:
		return len(st.Map("extracted")) > 0
	case taskgraph.TypeCollect:
		return len(st.List("collected")) > 0
	case taskgraph.TypeCompute:
		_, ok := st["compute_result"]
		return ok && st.String("compute_error") == ""
	case taskgraph.TypeNavigate:
		return st.String("url") != ""
	case taskgraph.TypeAct:
		return st.Bool("state_changed")
	case taskgraph.TypeBranch:
		return st.String("branch_taken") != ""
	case taskgraph.TypeIterate:
		return len(st.List("iteration_results")) > 0
	default:
		return st.Bool("action_ok")
	}
}

func (v *DualVerifier) softFraction(ctx context.Context, node *taskgraph.Node, st env.State, tier route.Tier, details map[string]any) float64 {
	if tier == route.TierNone {
		details["soft_skipped"] = "tier"
		return 0
	}
	excerpt := st.String("text_content")
	if limit := *v.opts.TextExcerptLen; len(excerpt) > limit {
		excerpt = excerpt[:limit]
	}
	prompt := fmt.Sprintf(
		"Judge whether the current page state satisfies the task goal.\n\nGoal: %s\n\nPage text: %s\n\nReply with a confidence from 0 to 100.",
		node.Goal, excerpt)
	response, err := v.opts.Oracle.Judge(ctx, prompt)
	if err != nil {
		details["soft_error"] = err.Error()
		return 0
	}
	frac := parseJudgment(response)
	details["soft_judgment"] = frac
	return frac
}

func (v *DualVerifier) consistencyFraction(node *taskgraph.Node, st env.State, details map[string]any) float64 {
	var frac float64
	switch node.Type {
	case taskgraph.TypeExtract:
		declared := node.ParamList("fields")
		if len(declared) == 0 {
			if len(st.Map("extracted")) > 0 {
				frac = 1
			}
			break
		}
		extracted := st.Map("extracted")
		present := 0
		for _, f := range declared {
			name := fieldName(f)
			if val, ok := extracted[name]; ok && fmt.Sprint(val) != "" {
				present++
			}
		}
		frac = float64(present) / float64(len(declared))
	case taskgraph.TypeCompute:
		if st.String("compute_error") == "" {
			frac = 1
		}
	case taskgraph.TypeCollect:
		if len(st.List("collected")) > 0 {
			frac = 1
		}
	case taskgraph.TypeNavigate:
		if st.Bool("navigation_success") {
			frac = 1
		}
	default:
		// No per-type coherence signal; a loaded page with a title is
		// treated as a coherent state.
		if st.String("url") != "" && st.String("title") != "" {
			frac = 1
		}
	}
	details["consistency"] = frac
	return frac
}

// fieldName tolerates both "name" and {"name": ..., "selector": ...}
// entries in a fields param.
func fieldName(f any) string {
	switch v := f.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["name"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(f)
}
