package repair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/executor"
	"github.com/danshapiro/wayfinder/internal/rollback"
	"github.com/danshapiro/wayfinder/internal/route"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
	"github.com/danshapiro/wayfinder/internal/verify"
)

// The product detail lives one "next" click past the listing; an EXTRACT
// pointed at the detail page fails on the listing and recovers once the
// try_next_page repair action follows the link.
func pagedSim() *env.Sim {
	return env.NewSim(map[string]*env.Page{
		"https://shop.test/list": {Title: "Product List", HTML: `
			<div class="row">Widget A</div>
			<a class="next" href="https://shop.test/detail">more</a>`},
		"https://shop.test/detail": {Title: "Product Detail", HTML: `
			<span class="price">19.99</span>
			<span class="name">Widget A</span>`},
	})
}

func pagedGraph() *taskgraph.Graph {
	return &taskgraph.Graph{
		TaskID: "shop",
		Nodes: []*taskgraph.Node{
			{
				ID: "nav", Type: taskgraph.TypeNavigate,
				Goal: "open the listing", Predicate: "URL contains 'list' && title contains 'Product'",
				Idempotent: true,
				Params:     map[string]any{"url": "https://shop.test/list"},
			},
			{
				ID: "extract", Type: taskgraph.TypeExtract,
				Goal: "pull price and name from the detail page", Predicate: "URL contains 'detail' && title contains 'Detail'",
				Idempotent: true,
				Params: map[string]any{"fields": []any{
					map[string]any{"name": "price", "selector": ".price"},
					map[string]any{"name": "name", "selector": ".name"},
				}},
			},
		},
		Edges: []taskgraph.Edge{{From: "nav", To: "extract"}},
	}
}

func newCoordinator(e env.Environment, opts CoordinatorOptions) *Coordinator {
	m := rollback.NewManager(10)
	v := verify.NewDualVerifier(verify.Options{})
	r := route.NewRouter(route.Options{})
	exec := executor.New(e, v, r, m, executor.Options{})
	return NewCoordinator(exec, e, m, opts)
}

func TestCoordinatorRepairsExtractionFailure(t *testing.T) {
	var events []map[string]any
	c := newCoordinator(pagedSim(), CoordinatorOptions{
		Progress: func(ev map[string]any) { events = append(events, ev) },
	})

	res := c.Run(context.Background(), pagedGraph())
	require.True(t, res.Success, "repair should recover the run: %s", res.Error)
	assert.Equal(t, "shop_subgraph", res.TaskID)
	assert.Equal(t, "19.99", res.FinalState.Map("extracted")["price"])

	var classified, applied bool
	for _, ev := range events {
		switch ev["type"] {
		case "repair_classified":
			classified = true
			assert.Equal(t, string(FailExtraction), ev["failure_type"])
		case "repair_action_ok":
			applied = true
			assert.Equal(t, "try_next_page", ev["action"])
		}
	}
	assert.True(t, classified)
	assert.True(t, applied)
}

func TestCoordinatorPassesThroughSuccess(t *testing.T) {
	g := pagedGraph()
	// point the extract at the listing so the first pass succeeds
	g.Nodes[1].Predicate = "URL contains 'list' && title contains 'Product'"
	g.Nodes[1].Params = map[string]any{"fields": []any{
		map[string]any{"name": "item", "selector": ".row"},
	}}

	c := newCoordinator(pagedSim(), CoordinatorOptions{})
	res := c.Run(context.Background(), g)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "shop", res.TaskID)
}

func TestCoordinatorExhaustionReturnsOriginalFailure(t *testing.T) {
	// No next link anywhere: every EXTRACTION repair action fails and the
	// ladder runs out, so the caller sees the initial failure untouched.
	sim := env.NewSim(map[string]*env.Page{
		"https://shop.test/list": {Title: "Product List", HTML: `<div class="row">Widget A</div>`},
	})
	g := pagedGraph()

	c := newCoordinator(sim, CoordinatorOptions{})
	res := c.Run(context.Background(), g)

	assert.False(t, res.Success)
	assert.Equal(t, "shop", res.TaskID, "original result, not a subgraph result")
	assert.Equal(t, "extract", res.FailedNode)
}

func TestApplyRepairActions(t *testing.T) {
	sim := env.NewSim(map[string]*env.Page{
		"https://x.test/": {Title: "Home", HTML: `<button class="close">x</button>`},
	})
	require.NoError(t, sim.Navigate("https://x.test/"))
	node := &taskgraph.Node{ID: "n", Type: taskgraph.TypeAct, Idempotent: true}

	ok := ApplyRepair(Strategy{Name: "close popup", Actions: []string{"close_popup"}}, node, sim, nil)
	assert.True(t, ok)

	ok = ApplyRepair(Strategy{Name: "wait", Actions: []string{"wait_longer"}}, node, sim, nil)
	assert.True(t, ok)

	ok = ApplyRepair(Strategy{Name: "noop ladder", Actions: []string{"use_xpath", "fix_computation"}}, node, sim, nil)
	assert.False(t, ok, "unimplemented actions must report failure")
}

func TestApplyRepairNavigateAgain(t *testing.T) {
	sim := pagedSim()
	require.NoError(t, sim.Navigate("https://shop.test/list"))
	require.True(t, func() bool { ok, _ := sim.Click("a.next", 0); return ok }())
	require.Equal(t, "https://shop.test/detail", sim.CurrentURL())

	node := &taskgraph.Node{
		ID: "nav", Type: taskgraph.TypeNavigate, Idempotent: true,
		Params: map[string]any{"url": "https://shop.test/list"},
	}
	ok := ApplyRepair(Strategy{Name: "renavigate", Actions: []string{"navigate_again"}}, node, sim, nil)
	assert.True(t, ok)
	assert.Equal(t, "https://shop.test/list", sim.CurrentURL())
}
