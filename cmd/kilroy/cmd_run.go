package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danshapiro/attractorctl/internal/attractor/engine"
	"github.com/danshapiro/attractorctl/internal/attractor/graphdoc"
	"github.com/danshapiro/attractorctl/internal/attractor/jjutil"
	"github.com/danshapiro/attractorctl/internal/attractor/runtime"
	"github.com/danshapiro/attractorctl/internal/attractor/validate"
)

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	logsRoot := fs.String("logs", "./attractorctl-runs", "directory under which this run's logs/checkpoints are written")
	modelOverride := fs.String("model", "", "override llm_model on every node that doesn't set one")
	providerOverride := fs.String("provider", "", "override llm_provider on every node that doesn't set one")
	toolsOverride := fs.String("tools", "", "override tool_mode on every node that doesn't set one")
	resumeFrom := fs.String("resume", "", "path to a checkpoint.json to resume from")
	dryRun := fs.Bool("dry-run", false, "validate and print the run plan without executing it")
	approveAll := fs.Bool("approve-all", false, "auto-approve every human gate instead of prompting on stdin")
	verbose := fs.Bool("verbose", false, "print every engine event to stderr")
	goal := fs.String("goal", "", "goal text recorded on the run and available to nodes as graph.goal")
	maxRetries := fs.Int("max-retries", 2, "default retry budget for a node with no max_retries attr")
	worktreeDir := fs.String("worktree", "", "working directory handed to tool/workspace stages")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: attractorctl run [flags] <workflow>")
		fs.PrintDefaults()
		return 2
	}
	workflowPath := fs.Arg(0)

	g, err := graphdoc.Load(workflowPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}
	applyOverrides(g, *modelOverride, *providerOverride, *toolsOverride)

	registry := engine.NewDefaultRegistry(&engine.SimulatedCodergenBackend{}, pickInterviewer(*approveAll), jjutil.Runner{}, engine.ShellToolRunner{})
	if err := validate.ValidateOrError(g, validate.NewTypeKnownRule(registry.KnownTypes())); err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}

	if *dryRun {
		fmt.Printf("workflow %s validated OK: %d nodes, %d edges\n", workflowPath, len(g.Nodes), len(g.Edges))
		return 0
	}

	runID := engine.NewRunID()
	var resumeCheckpoint *runtime.Checkpoint
	if *resumeFrom != "" {
		cp, err := runtime.LoadCheckpoint(*resumeFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "attractorctl: loading checkpoint: %v\n", err)
			return 1
		}
		resumeCheckpoint = cp
		// Checkpoints live at <logsRoot>/<runID>/checkpoint.json; reuse that
		// run id so logs/usage for the resumed run land alongside the
		// original instead of starting a fresh directory.
		if dir := filepath.Base(filepath.Dir(*resumeFrom)); dir != "." && dir != string(filepath.Separator) {
			runID = dir
		}
	}

	root := filepath.Join(*logsRoot, runID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}

	sink := engine.EventSinkFunc(func(ev engine.Event) { printEvent(ev, *verbose) })
	eng := engine.NewEngine(sink)

	ctx, stop := signalContext(context.Background())
	defer stop()

	result, err := eng.Run(ctx, engine.RunOptions{
		Graph:       g,
		RunID:       runID,
		LogsRoot:    root,
		WorktreeDir: *worktreeDir,
		Goal:        *goal,
		MaxRetries:  *maxRetries,
		Backoff:     engine.DefaultBackoffConfig(),
		Registry:    registry,
		Jj:          jjutil.Runner{},
		ResumeFrom:  resumeCheckpoint,
	})

	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "attractorctl: run cancelled")
		return 130
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}
	fmt.Printf("run %s: %s (final node %s, %d nodes completed, %d restarts)\n",
		runID, result.Status, result.FinalNode, len(result.CompletedNodes), result.RestartCount)
	if result.Status != runtime.FinalSuccess {
		if result.FailureReason != "" {
			fmt.Fprintf(os.Stderr, "attractorctl: %s (%s)\n", result.FailureReason, result.FailureClass)
		}
		return 1
	}
	return 0
}

func pickInterviewer(approveAll bool) engine.Interviewer {
	if approveAll {
		return approveAllInterviewer{}
	}
	return newCLIInterviewer()
}

func printEvent(ev engine.Event, verbose bool) {
	switch ev.Kind {
	case engine.EventStageStarted, engine.EventStageCompleted, engine.EventStageFailed, engine.EventStageRetrying,
		engine.EventPipelineStarted, engine.EventPipelineResumed, engine.EventPipelineCompleted,
		engine.EventPipelineFailed, engine.EventPipelineCancelled:
		fmt.Fprintf(os.Stderr, "[%s] %s %v\n", ev.Timestamp, ev.Kind, ev.Data)
	default:
		if verbose {
			fmt.Fprintf(os.Stderr, "[%s] %s %v\n", ev.Timestamp, ev.Kind, ev.Data)
		}
	}
}
