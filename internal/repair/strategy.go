package repair

// Strategy is one remediation recipe: an ordered list of repair actions and
// how far the run must rewind before they apply.
type Strategy struct {
	Failure       FailureType
	Name          string
	Actions       []string
	RollbackDepth int
}

// strategies is the static repair table, ordered per failure type from the
// cheapest intervention to the most disruptive. Attempt n uses entry n.
var strategies = map[FailureType][]Strategy{
	FailGrounding: {
		{
			Failure:       FailGrounding,
			Name:          "switch anchor",
			Actions:       []string{"try_alternative_selector", "use_text_match", "use_xpath"},
			RollbackDepth: 0,
		},
		{
			Failure:       FailGrounding,
			Name:          "wait for element",
			Actions:       []string{"wait_longer", "scroll_to_view"},
			RollbackDepth: 0,
		},
	},
	FailState: {
		{
			Failure:       FailState,
			Name:          "close popup",
			Actions:       []string{"close_popup", "dismiss_modal"},
			RollbackDepth: 0,
		},
		{
			Failure:       FailState,
			Name:          "renavigate",
			Actions:       []string{"refresh_page", "navigate_again"},
			RollbackDepth: 1,
		},
	},
	FailExtraction: {
		{
			Failure:       FailExtraction,
			Name:          "expand page set",
			Actions:       []string{"try_next_page", "expand_section"},
			RollbackDepth: 0,
		},
		{
			Failure:       FailExtraction,
			Name:          "adjust extraction rules",
			Actions:       []string{"relax_extraction_rules", "use_alternative_fields"},
			RollbackDepth: 0,
		},
	},
	FailCompute: {
		{
			Failure:       FailCompute,
			Name:          "reflect on computation",
			Actions:       []string{"fix_computation", "use_fallback_value"},
			RollbackDepth: 0,
		},
	},
	FailPlan: {
		{
			Failure:       FailPlan,
			Name:          "rollback to collect",
			Actions:       []string{"rollback_to_collect"},
			RollbackDepth: 2,
		},
	},
}

// SelectStrategy returns the strategy for the given attempt (0-based), or
// false when the failure type's ladder is exhausted. UNKNOWN failures have
// no ladder at all.
func SelectStrategy(ft FailureType, attempt int) (Strategy, bool) {
	ladder := strategies[ft]
	if attempt < 0 || attempt >= len(ladder) {
		return Strategy{}, false
	}
	return ladder[attempt], true
}
