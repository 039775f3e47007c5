package repair

import (
	"context"
	"errors"

	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/executor"
	"github.com/danshapiro/wayfinder/internal/rollback"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

const DefaultMaxAttempts = 3

// Coordinator owns the repair loop around an executor: run, and on failure
// classify, rewind, patch, and re-run the minimal subgraph a bounded number
// of times.
type Coordinator struct {
	exec        *executor.Executor
	env         env.Environment
	checkpoints *rollback.Manager
	reset       *rollback.EnvironmentReset
	maxAttempts int
	emit        func(map[string]any)
}

type CoordinatorOptions struct {
	MaxAttempts *int
	Progress    func(map[string]any)
}

func NewCoordinator(exec *executor.Executor, e env.Environment, m *rollback.Manager, opts CoordinatorOptions) *Coordinator {
	max := DefaultMaxAttempts
	if opts.MaxAttempts != nil && *opts.MaxAttempts > 0 {
		max = *opts.MaxAttempts
	}
	emit := opts.Progress
	if emit == nil {
		emit = func(map[string]any) {}
	}
	return &Coordinator{
		exec:        exec,
		env:         e,
		checkpoints: m,
		reset:       rollback.NewEnvironmentReset(e),
		maxAttempts: max,
		emit:        emit,
	}
}

// Run executes the graph and, when it fails, drives the repair loop. The
// pre-run environment state is captured first so a checkpoint miss on a
// non-idempotent node can still fall back to a clean reset.
func (c *Coordinator) Run(ctx context.Context, g *taskgraph.Graph) *executor.Result {
	c.reset.SaveInitialState()
	result := c.exec.Execute(ctx, g)
	if result.Success {
		return result
	}
	return c.attemptRepair(ctx, g, result)
}

func (c *Coordinator) attemptRepair(ctx context.Context, g *taskgraph.Graph, initial *executor.Result) *executor.Result {
	failedID := initial.FailedNode
	if failedID == "" {
		return initial
	}
	node := g.Node(failedID)
	if node == nil {
		return initial
	}

	nr := initial.NodeResults[failedID]
	errText := ""
	confidence := 0.0
	if nr != nil {
		errText = nr.Error
		confidence = nr.Confidence
	}

	// Classification is pinned to the initial failure and reused across
	// attempts, so every rung of the ladder answers the same diagnosis.
	failureType := Classify(node, errText, confidence, initial.FinalState)
	c.emit(map[string]any{"type": "repair_classified", "node_id": failedID, "failure_type": string(failureType)})

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return initial
		}
		strategy, ok := SelectStrategy(failureType, attempt)
		if !ok {
			c.emit(map[string]any{"type": "repair_exhausted", "node_id": failedID, "reason": "no strategy left"})
			break
		}
		c.emit(map[string]any{
			"type": "repair_attempt", "node_id": failedID, "attempt": attempt + 1,
			"strategy": strategy.Name, "failure_type": string(failureType),
		})

		subgraphIDs, depth := ComputeRollbackSubgraph(g, failedID, failureType)
		c.emit(map[string]any{"type": "repair_subgraph", "depth": depth, "nodes": subgraphIDs})

		if depth > 0 && c.checkpoints != nil && len(subgraphIDs) > 0 {
			target := subgraphIDs[0]
			cp, err := c.checkpoints.RollbackToNode(target)
			switch {
			case err == nil:
				c.emit(map[string]any{"type": "rollback_restored", "target_node": target, "step": cp.Step})
				if rerr := rollback.RestoreEnvState(c.env, cp.EnvState); rerr != nil {
					c.emit(map[string]any{"type": "rollback_error", "error": rerr.Error()})
				}
			case errors.Is(err, rollback.ErrCheckpointNotFound):
				c.emit(map[string]any{"type": "rollback_miss", "target_node": target})
				if !node.Idempotent {
					if rerr := c.reset.ResetToInitial(); rerr != nil {
						c.emit(map[string]any{"type": "rollback_error", "error": rerr.Error()})
					}
				}
			default:
				c.emit(map[string]any{"type": "rollback_error", "error": err.Error()})
			}
		}

		if !ApplyRepair(strategy, node, c.env, c.emit) {
			c.emit(map[string]any{"type": "repair_attempt_failed", "node_id": failedID, "attempt": attempt + 1})
			continue
		}

		sub := g.Subgraph(subgraphIDs)
		result := c.exec.Execute(ctx, sub)
		if result.Success {
			c.emit(map[string]any{"type": "repair_success", "node_id": failedID, "attempt": attempt + 1, "depth": depth})
			return result
		}
		c.emit(map[string]any{"type": "repair_reexec_failed", "node_id": failedID, "attempt": attempt + 1})
	}

	// Exhausted: the original failure stands.
	return initial
}
