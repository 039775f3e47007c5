package repair

import (
	"time"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

var closeSelectors = []string{
	"button.close",
	".modal-close",
	"[aria-label='Close']",
	".popup-close",
}

var nextPageSelectors = []string{
	"a.next",
	"button.next",
	"[aria-label='Next']",
	".pagination-next",
}

const repairClickTimeout = time.Second

// ApplyRepair runs the strategy's actions in order against the environment
// and stops at the first one that succeeds. Non-idempotent nodes get a
// warning event; the coordinator is responsible for resetting the
// environment before re-execution when that matters.
func ApplyRepair(strategy Strategy, node *taskgraph.Node, e env.Environment, emit func(map[string]any)) bool {
	if emit == nil {
		emit = func(map[string]any) {}
	}
	emit(map[string]any{"type": "repair_apply", "strategy": strategy.Name, "node_id": node.ID})

	if !node.Idempotent {
		emit(map[string]any{"type": "repair_warning", "node_id": node.ID, "reason": "node is not idempotent"})
	}

	for _, action := range strategy.Actions {
		if runRepairAction(action, node, e) {
			emit(map[string]any{"type": "repair_action_ok", "action": action, "node_id": node.ID})
			return true
		}
	}
	return false
}

// runRepairAction performs one named action. Actions with no mechanical
// implementation report failure so the ladder moves on.
func runRepairAction(action string, node *taskgraph.Node, e env.Environment) bool {
	switch action {
	case "close_popup", "dismiss_modal":
		return closePopup(e)
	case "refresh_page":
		return e.Refresh() == nil
	case "navigate_again":
		url := node.Param("url", "")
		if url == "" {
			return false
		}
		return e.Navigate(url) == nil
	case "wait_longer":
		e.Wait(5 * time.Second)
		return true
	case "scroll_to_view":
		return e.ScrollToBottom() == nil
	case "try_next_page":
		return clickFirst(e, nextPageSelectors)
	}
	return false
}

func closePopup(e env.Environment) bool {
	if clickFirst(e, closeSelectors) {
		return true
	}
	return e.PressKey("Escape") == nil
}

func clickFirst(e env.Environment, selectors []string) bool {
	for _, sel := range selectors {
		if ok, err := e.Click(sel, repairClickTimeout); err == nil && ok {
			return true
		}
	}
	return false
}
