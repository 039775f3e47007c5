// Package repair recovers a failed run without replanning: it classifies
// the failure, picks a repair strategy, rewinds to a checkpoint when the
// strategy calls for it, and re-executes the minimal affected subgraph.
package repair

import (
	"fmt"
	"strings"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

type FailureType string

const (
	FailGrounding  FailureType = "grounding_fail"  // could not locate an element
	FailState      FailureType = "state_fail"      // page not in the expected state
	FailExtraction FailureType = "extraction_fail" // data extraction came up empty
	FailCompute    FailureType = "compute_fail"    // expression evaluation failed
	FailPlan       FailureType = "plan_fail"       // the plan itself looks wrong
	FailUnknown    FailureType = "unknown"
)

// planConfidenceFloor is the confidence below which a failure stops looking
// like a local mishap and starts looking like a bad plan.
const planConfidenceFloor = 0.3

// Classify maps a node failure to a failure type. Rules apply in order and
// the first match wins; confidence is only consulted after the structural
// rules pass.
func Classify(node *taskgraph.Node, errText string, confidence float64, state env.State) FailureType {
	lower := strings.ToLower(errText)
	if strings.Contains(lower, "element") || strings.Contains(lower, "selector") {
		return FailGrounding
	}
	if node.Type == taskgraph.TypeExtract && len(state.Map("extracted")) == 0 {
		return FailExtraction
	}
	if node.Type == taskgraph.TypeCompute && state.String("compute_error") != "" {
		return FailCompute
	}
	if node.Type == taskgraph.TypeNavigate || node.Type == taskgraph.TypeAct {
		if detectPopup(state) {
			return FailState
		}
	}
	if confidence < planConfidenceFloor {
		return FailPlan
	}
	return FailUnknown
}

var modalKeywords = []string{"modal", "popup", "dialog", "overlay"}

func detectPopup(state env.State) bool {
	for _, el := range state.List("dom_elements") {
		s := strings.ToLower(fmt.Sprint(el))
		for _, kw := range modalKeywords {
			if strings.Contains(s, kw) {
				return true
			}
		}
	}
	return false
}
