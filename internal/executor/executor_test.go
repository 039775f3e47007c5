package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/rollback"
	"github.com/danshapiro/wayfinder/internal/route"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
	"github.com/danshapiro/wayfinder/internal/verify"
)

const shopListHTML = `
<html><body>
  <div class="row">Widget A</div>
  <div class="row">Widget B</div>
  <a class="next" href="https://shop.test/detail">detail</a>
</body></html>`

const shopDetailHTML = `
<html><body>
  <span class="price">19.99</span>
  <span class="name">Widget A</span>
</body></html>`

func shopSim() *env.Sim {
	return env.NewSim(map[string]*env.Page{
		"https://shop.test/list":   {Title: "Product List", HTML: shopListHTML},
		"https://shop.test/detail": {Title: "Product Detail", HTML: shopDetailHTML},
	})
}

func shopGraph() *taskgraph.Graph {
	return &taskgraph.Graph{
		TaskID: "shop",
		Nodes: []*taskgraph.Node{
			{
				ID: "nav", Type: taskgraph.TypeNavigate,
				Goal:       "open the product list",
				Predicate:  "URL contains 'list' && title contains 'Product'",
				Idempotent: true,
				Params:     map[string]any{"url": "https://shop.test/list"},
			},
			{
				ID: "collect", Type: taskgraph.TypeCollect,
				Goal:       "collect product rows",
				Predicate:  "URL contains 'list' && title contains 'Product'",
				Idempotent: true,
				Params:     map[string]any{"selector": ".row", "min_items": 2},
			},
			{
				ID: "open", Type: taskgraph.TypeAct,
				Goal:       "open the first product",
				Predicate:  "URL contains 'detail' && title contains 'Detail'",
				Idempotent: false,
				Params:     map[string]any{"action": "click", "target": "a.next"},
			},
			{
				ID: "extract", Type: taskgraph.TypeExtract,
				Goal:       "pull price and name",
				Predicate:  "URL contains 'detail' && title contains 'Detail'",
				Idempotent: true,
				Params: map[string]any{"fields": []any{
					map[string]any{"name": "price", "selector": ".price"},
					map[string]any{"name": "name", "selector": ".name"},
				}},
			},
		},
		Edges: []taskgraph.Edge{
			{From: "nav", To: "collect"},
			{From: "collect", To: "open"},
			{From: "open", To: "extract"},
		},
	}
}

func newTestExecutor(e env.Environment, opts Options) (*Executor, *rollback.Manager) {
	m := rollback.NewManager(10)
	v := verify.NewDualVerifier(verify.Options{})
	r := route.NewRouter(route.Options{})
	return New(e, v, r, m, opts), m
}

func TestExecuteHappyPath(t *testing.T) {
	x, m := newTestExecutor(shopSim(), Options{})
	res := x.Execute(context.Background(), shopGraph())

	if !res.Success {
		t.Fatalf("run failed: node %s: %s", res.FailedNode, res.Error)
	}
	if res.Steps != 4 {
		t.Fatalf("steps = %d", res.Steps)
	}
	if res.RunID == "" {
		t.Fatal("run id must be set")
	}
	for id, nr := range res.NodeResults {
		if nr.Status != StatusSuccess {
			t.Fatalf("node %s status = %s", id, nr.Status)
		}
	}
	if m.Len() != 4 {
		t.Fatalf("expected a checkpoint per successful node, got %d", m.Len())
	}
	if got := res.FinalState.Map("extracted")["price"]; got != "19.99" {
		t.Fatalf("extracted price = %v", got)
	}
}

func TestExecuteFailFast(t *testing.T) {
	g := shopGraph()
	g.Nodes[1].Params["selector"] = ".absent"

	x, _ := newTestExecutor(shopSim(), Options{})
	res := x.Execute(context.Background(), g)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.FailedNode != "collect" {
		t.Fatalf("failed node = %q", res.FailedNode)
	}
	if res.NodeResults["collect"].Status != StatusFailed {
		t.Fatalf("collect status = %s", res.NodeResults["collect"].Status)
	}
	if res.NodeResults["collect"].Reason != "verification below threshold" {
		t.Fatalf("collect reason = %q", res.NodeResults["collect"].Reason)
	}
	// downstream nodes never ran
	if res.NodeResults["open"].Status != StatusPending {
		t.Fatalf("open status = %s", res.NodeResults["open"].Status)
	}
	if res.NodeResults["extract"].Status != StatusPending {
		t.Fatalf("extract status = %s", res.NodeResults["extract"].Status)
	}
}

func TestExecuteStepBudget(t *testing.T) {
	maxSteps := 1
	x, _ := newTestExecutor(shopSim(), Options{MaxSteps: &maxSteps})
	res := x.Execute(context.Background(), shopGraph())

	if res.Success {
		t.Fatal("expected budget exhaustion")
	}
	if res.FailedNode != "" {
		t.Fatalf("budget exhaustion must not blame a node, got %q", res.FailedNode)
	}
	if !strings.Contains(res.Error, "step budget") {
		t.Fatalf("error = %q", res.Error)
	}
	if res.Steps != 1 {
		t.Fatalf("steps = %d", res.Steps)
	}
}

func TestExecuteNoProgressForcesFailure(t *testing.T) {
	// Three consecutive nodes on the same static page: identical DOM
	// digests fill the detector window and the third node is failed even
	// if its verification would pass.
	g := &taskgraph.Graph{
		TaskID: "stuck",
		Nodes: []*taskgraph.Node{
			{
				ID: "nav", Type: taskgraph.TypeNavigate,
				Goal: "open list", Predicate: "URL contains 'list' && title contains 'Product'",
				Params: map[string]any{"url": "https://shop.test/list"},
			},
			{
				ID: "collect", Type: taskgraph.TypeCollect,
				Goal: "collect rows", Predicate: "URL contains 'list' && title contains 'Product'",
				Params: map[string]any{"selector": ".row"},
			},
			{
				ID: "check", Type: taskgraph.TypeVerify,
				Goal: "confirm listing", Predicate: "URL contains 'list' && title contains 'Product'",
			},
		},
		Edges: []taskgraph.Edge{{From: "nav", To: "collect"}, {From: "collect", To: "check"}},
	}

	x, _ := newTestExecutor(shopSim(), Options{})
	res := x.Execute(context.Background(), g)

	if res.Success {
		t.Fatal("expected no-progress failure")
	}
	if res.FailedNode != "check" {
		t.Fatalf("failed node = %q", res.FailedNode)
	}
	if res.NodeResults["check"].Reason != "no progress detected" {
		t.Fatalf("reason = %q", res.NodeResults["check"].Reason)
	}
}

func TestNoProgressWindowOption(t *testing.T) {
	g := &taskgraph.Graph{
		TaskID: "stuck",
		Nodes: []*taskgraph.Node{
			{
				ID: "nav", Type: taskgraph.TypeNavigate,
				Goal: "open list", Predicate: "URL contains 'list' && title contains 'Product'",
				Params: map[string]any{"url": "https://shop.test/list"},
			},
			{
				ID: "collect", Type: taskgraph.TypeCollect,
				Goal: "collect rows", Predicate: "URL contains 'list' && title contains 'Product'",
				Params: map[string]any{"selector": ".row"},
			},
			{
				ID: "check", Type: taskgraph.TypeVerify,
				Goal: "confirm listing", Predicate: "URL contains 'list' && title contains 'Product'",
			},
		},
		Edges: []taskgraph.Edge{{From: "nav", To: "collect"}, {From: "collect", To: "check"}},
	}

	// Window 2 trips one node earlier than the default of 3.
	window := 2
	x, _ := newTestExecutor(shopSim(), Options{NoProgressWindow: &window})
	res := x.Execute(context.Background(), g)
	if res.Success {
		t.Fatal("expected no-progress failure with window 2")
	}
	if res.FailedNode != "collect" {
		t.Fatalf("failed node = %q", res.FailedNode)
	}
	if res.NodeResults["collect"].Reason != "no progress detected" {
		t.Fatalf("reason = %q", res.NodeResults["collect"].Reason)
	}

	// Window 5 never fills on a three-node run, so the same graph passes.
	window = 5
	x, _ = newTestExecutor(shopSim(), Options{NoProgressWindow: &window})
	res = x.Execute(context.Background(), g)
	if !res.Success {
		t.Fatalf("run failed: node %s: %s", res.FailedNode, res.Error)
	}
}

func TestExecuteCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x, _ := newTestExecutor(shopSim(), Options{})
	res := x.Execute(ctx, shopGraph())

	if res.Success {
		t.Fatal("expected cancellation")
	}
	if !strings.Contains(res.Error, "canceled") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestExecuteTopoOrderError(t *testing.T) {
	g := shopGraph()
	g.Edges = append(g.Edges, taskgraph.Edge{From: "extract", To: "nav"})

	x, _ := newTestExecutor(shopSim(), Options{})
	res := x.Execute(context.Background(), g)

	if res.Success {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(res.Error, "topological order") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestExecuteEmitsProgress(t *testing.T) {
	var events []map[string]any
	x, _ := newTestExecutor(shopSim(), Options{Progress: func(ev map[string]any) { events = append(events, ev) }})
	res := x.Execute(context.Background(), shopGraph())
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}

	kinds := map[string]int{}
	for _, ev := range events {
		if k, ok := ev["type"].(string); ok {
			kinds[k]++
		}
	}
	if kinds["run_start"] != 1 || kinds["run_end"] != 1 {
		t.Fatalf("run lifecycle events = %v", kinds)
	}
	if kinds["node_start"] != 4 || kinds["node_success"] != 4 {
		t.Fatalf("node lifecycle events = %v", kinds)
	}
}
