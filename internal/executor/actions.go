package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/expr"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

// performAction dispatches on the node type and records the action's output
// into the shared state. Only environment failures are returned as errors;
// semantically weak outcomes (nothing collected, a false branch) are left
// for the verifier to judge.
func (x *Executor) performAction(node *taskgraph.Node, state env.State) error {
	switch node.Type {
	case taskgraph.TypeNavigate:
		return x.actNavigate(node, state)
	case taskgraph.TypeCollect:
		return x.actCollect(node, state)
	case taskgraph.TypeExtract:
		return x.actExtract(node, state)
	case taskgraph.TypeCompute:
		x.actCompute(node, state)
		return nil
	case taskgraph.TypeAct:
		return x.actInteract(node, state)
	case taskgraph.TypeVerify:
		state["action_ok"] = true
		return nil
	case taskgraph.TypeIterate:
		x.actIterate(node, state)
		return nil
	case taskgraph.TypeBranch:
		x.actBranch(node, state)
		return nil
	}
	return fmt.Errorf("node %s: unhandled type %s", node.ID, node.Type)
}

func (x *Executor) actNavigate(node *taskgraph.Node, state env.State) error {
	url := node.Param("url", "")
	if url == "" {
		return fmt.Errorf("node %s: navigate requires a url param", node.ID)
	}
	if err := x.env.Navigate(url); err != nil {
		return fmt.Errorf("node %s: navigate %s: %w", node.ID, url, err)
	}
	state["navigation_success"] = true
	state["action_ok"] = true
	return nil
}

func (x *Executor) actCollect(node *taskgraph.Node, state env.State) error {
	selector := node.Param("selector", "")
	if selector == "" {
		return fmt.Errorf("node %s: collect requires a selector param", node.ID)
	}
	items, err := x.env.Collect(selector)
	if err != nil {
		return fmt.Errorf("node %s: collect %q: %w", node.ID, selector, err)
	}
	state["collected"] = items
	state["dom_elements"] = items
	state["action_ok"] = true
	return nil
}

func (x *Executor) actExtract(node *taskgraph.Node, state env.State) error {
	var fields []env.Field
	for _, raw := range node.ParamList("fields") {
		switch f := raw.(type) {
		case string:
			fields = append(fields, env.Field{Name: f})
		case map[string]any:
			name, _ := f["name"].(string)
			sel, _ := f["selector"].(string)
			fields = append(fields, env.Field{Name: name, Selector: sel})
		}
	}
	data, err := x.env.Extract(fields)
	if err != nil {
		return fmt.Errorf("node %s: extract: %w", node.ID, err)
	}
	state["extracted"] = data
	state["action_ok"] = true
	return nil
}

// actCompute evaluates the node's expression over the current state.
// Evaluation errors land in compute_error rather than failing the node
// outright, so verification reports them with the rest of the evidence.
func (x *Executor) actCompute(node *taskgraph.Node, state env.State) {
	expression := node.Param("expression", "")
	if expression == "" {
		state["compute_error"] = fmt.Sprintf("node %s: compute requires an expression param", node.ID)
		return
	}
	delete(state, "compute_error")
	if isCondition(expression) {
		ok, err := expr.Evaluate(expression, state)
		if err != nil {
			state["compute_error"] = err.Error()
			return
		}
		state["compute_result"] = ok
	} else {
		v, err := expr.EvaluateValue(expression, state)
		if err != nil {
			state["compute_error"] = err.Error()
			return
		}
		state["compute_result"] = v
	}
	state["action_ok"] = true
}

func (x *Executor) actInteract(node *taskgraph.Node, state env.State) error {
	action := node.Param("action", "click")
	target := node.Param("target", "")
	if target == "" {
		return fmt.Errorf("node %s: act requires a target param", node.ID)
	}
	timeout := time.Duration(node.ParamInt("wait_ms", 5000)) * time.Millisecond

	var ok bool
	var err error
	switch action {
	case "click":
		ok, err = x.env.Click(target, timeout)
	case "type":
		err = x.env.TypeText(target, node.Param("text", ""))
		ok = err == nil
	case "submit":
		err = x.env.Submit(target)
		ok = err == nil
	default:
		return fmt.Errorf("node %s: unknown action %q", node.ID, action)
	}
	if err != nil {
		return fmt.Errorf("node %s: %s %q: %w", node.ID, action, target, err)
	}
	state["state_changed"] = true
	state["action_ok"] = ok
	return nil
}

// actIterate walks the collected items up to the iteration cap, leaving the
// last item and index in the state for downstream nodes.
func (x *Executor) actIterate(node *taskgraph.Node, state env.State) {
	max := node.ParamInt("max_iterations", 10)
	collection := state.List("collected")
	if len(collection) > max {
		collection = collection[:max]
	}
	results := make([]any, 0, len(collection))
	for i, item := range collection {
		state["current_item"] = item
		state["iteration_index"] = i
		results = append(results, item)
	}
	state["iteration_results"] = results
	state["state_changed"] = true
	state["action_ok"] = len(results) > 0
}

func (x *Executor) actBranch(node *taskgraph.Node, state env.State) {
	condition := node.Param("condition", "")
	taken, err := expr.Evaluate(condition, state)
	if err != nil {
		state["branch_error"] = err.Error()
		taken = false
	}
	if taken {
		state["branch_taken"] = "true"
	} else {
		state["branch_taken"] = "false"
	}
	state["state_changed"] = true
	state["action_ok"] = true
}

// isCondition sniffs for boolean connectives and comparison operators so
// COMPUTE can route between condition and value evaluation.
func isCondition(s string) bool {
	for _, op := range []string{"||", "&&", "==", "!=", ">=", "<=", ">", "<", " contains "} {
		if strings.Contains(s, op) {
			return true
		}
	}
	return false
}

func textDigest(text string) string {
	sum := blake3.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
