package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danshapiro/wayfinder/internal/config"
	"github.com/danshapiro/wayfinder/internal/env"
	"github.com/danshapiro/wayfinder/internal/executor"
	"github.com/danshapiro/wayfinder/internal/repair"
	"github.com/danshapiro/wayfinder/internal/rollback"
	"github.com/danshapiro/wayfinder/internal/route"
	"github.com/danshapiro/wayfinder/internal/taskgraph"
	"github.com/danshapiro/wayfinder/internal/verify"
)

func runCmd(args []string) {
	var graphPath, pagesPath, configPath string
	var noRepair bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--graph requires a value")
				os.Exit(1)
			}
			graphPath = args[i]
		case "--pages":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--pages requires a value")
				os.Exit(1)
			}
			pagesPath = args[i]
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--no-repair":
			noRepair = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" || pagesPath == "" {
		usage()
		os.Exit(1)
	}

	g, err := loadGraph(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if diags := taskgraph.Validate(g); hasErrorDiag(diags) {
		printDiagnostics(diags)
		os.Exit(1)
	}

	cfg := &config.Config{}
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	e, err := loadSim(pagesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer e.Close()

	progress := ndjsonProgress(os.Stderr)
	result := buildAndRun(context.Background(), g, e, cfg, noRepair || !cfg.RepairEnabled(), progress)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !result.Success {
		os.Exit(2)
	}
}

// buildAndRun assembles the run from config and executes it, with the
// repair loop wrapped around the executor unless disabled.
func buildAndRun(ctx context.Context, g *taskgraph.Graph, e env.Environment, cfg *config.Config, noRepair bool, progress func(map[string]any)) *executor.Result {
	router := route.NewRouter(route.Options{
		SmallModel:          cfg.Router.SmallModel,
		LargeModel:          cfg.Router.LargeModel,
		EscalateAfter:       cfg.Router.EscalateAfter,
		ComplexityThreshold: cfg.Router.ComplexityThreshold,
		Prices:              cfg.Router.Prices,
	})

	var oracle verify.Oracle
	if cfg.Oracle.APIKeyEnv != "" {
		if key := os.Getenv(cfg.Oracle.APIKeyEnv); key != "" {
			model := cfg.Oracle.Model
			if model == "" {
				model = router.ModelName(route.TierLow)
			}
			oracle = verify.NewOpenAIOracle(key, model)
		}
	}
	verifier := verify.NewDualVerifier(verify.Options{
		HardWeight:        cfg.Verifier.HardWeight,
		SoftWeight:        cfg.Verifier.SoftWeight,
		ConsistencyWeight: cfg.Verifier.ConsistencyWeight,
		Threshold:         cfg.Verifier.Threshold,
		TextExcerptLen:    cfg.Verifier.TextExcerptLen,
		Oracle:            oracle,
	})

	capacity := rollback.DefaultCapacity
	if cfg.Executor.CheckpointCapacity != nil {
		capacity = *cfg.Executor.CheckpointCapacity
	}
	checkpoints := rollback.NewManager(capacity)

	execOpts := executor.Options{
		MaxSteps:         cfg.Executor.MaxSteps,
		StabilityRepeats: cfg.Executor.StabilityRepeats,
		NoProgressWindow: cfg.Executor.NoProgressWindow,
		Progress:         progress,
	}
	if cfg.Executor.StabilityTimeoutMS != nil {
		d := time.Duration(*cfg.Executor.StabilityTimeoutMS) * time.Millisecond
		execOpts.StabilityTimeout = &d
	}
	exec := executor.New(e, verifier, router, checkpoints, execOpts)

	if noRepair {
		return exec.Execute(ctx, g)
	}
	coord := repair.NewCoordinator(exec, e, checkpoints, repair.CoordinatorOptions{
		MaxAttempts: cfg.Repair.MaxAttempts,
		Progress:    progress,
	})
	return coord.Run(ctx, g)
}

func loadGraph(path string) (*taskgraph.Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	if err := taskgraph.CheckSchema(doc); err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	g, err := taskgraph.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	return g, nil
}

// loadSim builds the simulated environment from a url -> page fixture file.
func loadSim(path string) (*env.Sim, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pages %s: %w", path, err)
	}
	var pages map[string]*env.Page
	if err := json.Unmarshal(b, &pages); err != nil {
		return nil, fmt.Errorf("parse pages %s: %w", path, err)
	}
	return env.NewSim(pages), nil
}

func ndjsonProgress(w *os.File) func(map[string]any) {
	enc := json.NewEncoder(w)
	return func(event map[string]any) {
		_ = enc.Encode(event)
	}
}
