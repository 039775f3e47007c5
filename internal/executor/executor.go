// Package executor walks a validated task graph in topological order,
// running one node at a time against the environment: perform the node's
// action, wait for the page to settle, gather evidence, verify, and either
// checkpoint and advance or fail fast.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/rollback"
	"github.com/danshapiro/wayfinder/internal/route"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
	"github.com/danshapiro/wayfinder/internal/verify"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type NodeResult struct {
	Status       Status         `json:"status"`
	Confidence   float64        `json:"confidence,omitempty"`
	Verification *verify.Result `json:"verification,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type Result struct {
	Success     bool                   `json:"success"`
	TaskID      string                 `json:"task_id"`
	RunID       string                 `json:"run_id"`
	Steps       int                    `json:"steps"`
	Duration    time.Duration          `json:"duration"`
	NodeResults map[string]*NodeResult `json:"node_results"`
	FailedNode  string                 `json:"failed_node,omitempty"`
	Error       string                 `json:"error,omitempty"`
	FinalState  env.State              `json:"final_state,omitempty"`
}

// ProgressFn receives one event per lifecycle transition. Events are plain
// maps so sinks can encode them however they like (NDJSON, test capture).
type ProgressFn func(event map[string]any)

type Options struct {
	MaxSteps          *int
	StabilityInterval *time.Duration
	StabilityRepeats  *int
	StabilityTimeout  *time.Duration
	NoProgressWindow  *int
	Progress          ProgressFn
}

func (o *Options) applyDefaults() {
	if o.MaxSteps == nil {
		v := 100
		o.MaxSteps = &v
	}
	if o.StabilityInterval == nil {
		v := 500 * time.Millisecond
		o.StabilityInterval = &v
	}
	if o.StabilityRepeats == nil {
		v := 3
		o.StabilityRepeats = &v
	}
	if o.StabilityTimeout == nil {
		v := 10 * time.Second
		o.StabilityTimeout = &v
	}
	if o.NoProgressWindow == nil {
		v := rollback.DefaultWindow
		o.NoProgressWindow = &v
	}
	if o.Progress == nil {
		o.Progress = func(map[string]any) {}
	}
}

// Estimated token sizes charged per verification call. Real usage is not
// observable from here, so spend tracking works on a fixed estimate.
const (
	estInputTokens  = 100
	estOutputTokens = 50
)

type Executor struct {
	env         env.Environment
	verifier    *verify.DualVerifier
	router      *route.Router
	checkpoints *rollback.Manager
	detector    *rollback.NoProgressDetector
	opts        Options
}

func New(e env.Environment, v *verify.DualVerifier, r *route.Router, m *rollback.Manager, opts Options) *Executor {
	opts.applyDefaults()
	return &Executor{
		env:         e,
		verifier:    v,
		router:      r,
		checkpoints: m,
		detector:    rollback.NewNoProgressDetector(*opts.NoProgressWindow),
		opts:        opts,
	}
}

// Checkpoints exposes the manager so repair can rewind this run.
func (x *Executor) Checkpoints() *rollback.Manager { return x.checkpoints }

// Execute runs every node of g in topological order and stops at the first
// failure. The returned result is always non-nil.
func (x *Executor) Execute(ctx context.Context, g *taskgraph.Graph) *Result {
	start := time.Now()
	res := &Result{
		TaskID:      g.TaskID,
		RunID:       ulid.Make().String(),
		NodeResults: make(map[string]*NodeResult),
	}

	order, err := taskgraph.TopologicalOrder(g)
	if err != nil {
		res.Error = fmt.Sprintf("topological order: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	for _, id := range order {
		res.NodeResults[id] = &NodeResult{Status: StatusPending}
	}

	state := env.State{}
	x.detector.Reset()
	x.emit(map[string]any{"type": "run_start", "run_id": res.RunID, "task_id": g.TaskID, "nodes": len(order)})

	for _, id := range order {
		if ctx.Err() != nil {
			res.Error = fmt.Sprintf("run canceled: %v", ctx.Err())
			break
		}
		if res.Steps >= *x.opts.MaxSteps {
			res.Error = fmt.Sprintf("step budget exhausted at %d steps", res.Steps)
			break
		}
		node := g.Node(id)
		if node == nil {
			res.NodeResults[id].Status = StatusSkipped
			continue
		}
		if !x.executeNode(ctx, node, state, res) {
			res.FailedNode = id
			nr := res.NodeResults[id]
			if nr.Reason != "" {
				res.Error = nr.Reason
			} else if nr.Error != "" {
				res.Error = nr.Error
			} else {
				res.Error = "unknown failure"
			}
			break
		}
		res.Steps++
	}

	res.Success = res.FailedNode == "" && res.Error == ""
	res.Duration = time.Since(start)
	res.FinalState = state
	x.emit(map[string]any{"type": "run_end", "run_id": res.RunID, "success": res.Success, "steps": res.Steps})
	return res
}

func (x *Executor) executeNode(ctx context.Context, node *taskgraph.Node, state env.State, res *Result) (ok bool) {
	nr := res.NodeResults[node.ID]
	nr.Status = StatusRunning
	x.emit(map[string]any{"type": "node_start", "node_id": node.ID, "node_type": string(node.Type), "goal": node.Goal})

	defer func() {
		if r := recover(); r != nil {
			nr.Status = StatusFailed
			nr.Error = fmt.Sprintf("node %s panicked: %v", node.ID, r)
			ok = false
		}
	}()

	if err := x.performAction(node, state); err != nil {
		nr.Status = StatusFailed
		nr.Error = err.Error()
		x.emit(map[string]any{"type": "node_error", "node_id": node.ID, "error": err.Error()})
		return false
	}

	x.waitForStability()
	x.collectEvidence(state)

	tier := x.router.SelectTier(node, state)
	verification := x.verifier.Verify(ctx, node, state, tier)
	x.router.RecordCall(tier, node.ID, estInputTokens, estOutputTokens)
	nr.Confidence = verification.Confidence
	nr.Verification = &verification
	x.emit(map[string]any{
		"type": "node_verified", "node_id": node.ID, "tier": string(tier),
		"confidence": verification.Confidence, "passed": verification.Passed,
	})

	x.detector.Record(state)
	if x.detector.NoProgress() {
		nr.Status = StatusFailed
		nr.Reason = "no progress detected"
		x.router.RecordFailure(node.ID)
		x.emit(map[string]any{"type": "node_failed", "node_id": node.ID, "reason": nr.Reason})
		return false
	}

	if !verification.Passed {
		nr.Status = StatusFailed
		nr.Reason = "verification below threshold"
		x.router.RecordFailure(node.ID)
		x.emit(map[string]any{"type": "node_failed", "node_id": node.ID, "reason": nr.Reason})
		return false
	}

	nr.Status = StatusSuccess
	if x.checkpoints != nil {
		if err := x.checkpoints.SaveCheckpoint(node.ID, res.Steps, state, rollback.CaptureEnvState(x.env)); err != nil {
			x.emit(map[string]any{"type": "checkpoint_error", "node_id": node.ID, "error": err.Error()})
		}
	}
	x.router.RecordSuccess(node.ID)
	x.emit(map[string]any{"type": "node_success", "node_id": node.ID, "confidence": verification.Confidence})
	return true
}

// waitForStability polls the page text digest until it repeats enough times
// in a row, or the soft timeout passes. Timeout is not an error: the run
// proceeds with whatever the page settled into.
func (x *Executor) waitForStability() {
	deadline := time.Now().Add(*x.opts.StabilityTimeout)
	var last string
	stable := 0
	for stable < *x.opts.StabilityRepeats {
		if time.Now().After(deadline) {
			x.emit(map[string]any{"type": "stability_timeout"})
			return
		}
		x.env.Wait(*x.opts.StabilityInterval)
		text, err := x.env.TextContent()
		if err != nil {
			return
		}
		digest := textDigest(text)
		if digest == last {
			stable++
		} else {
			stable = 0
			last = digest
		}
	}
}

// collectEvidence overlays the live page snapshot onto the accumulated
// state. Action outputs already in the state survive the merge. The DOM
// element snapshot refreshes every step so the no-progress detector sees
// the page as it is now, not as the last COLLECT left it.
func (x *Executor) collectEvidence(state env.State) {
	text, err := x.env.TextContent()
	if err != nil {
		text = ""
	}
	state.Merge(map[string]any{
		"url":          x.env.CurrentURL(),
		"title":        x.env.Title(),
		"text_content": text,
	})
	if elements, err := x.env.Collect("body *"); err == nil {
		state["dom_elements"] = elements
	} else if _, ok := state["dom_elements"]; !ok {
		state["dom_elements"] = []any{}
	}
}

func (x *Executor) emit(event map[string]any) {
	event["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	x.opts.Progress(event)
}
