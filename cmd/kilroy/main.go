// Command attractorctl runs declarative, graph-shaped pipelines: LLM
// codergen stages, shell tools, human approval gates, and git/jj workspace
// bookkeeping, wired together by conditional edges and checkpointed so a
// run can be resumed after a crash or a cancelled process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danshapiro/attractorctl/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("attractorctl %s\n", version.Version)
		os.Exit(0)
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "validate":
		os.Exit(cmdValidate(os.Args[2:]))
	case "show":
		os.Exit(cmdShow(os.Args[2:]))
	case "list-models":
		os.Exit(cmdListModels(os.Args[2:]))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: attractorctl <command> [flags]

commands:
  run <workflow>           run a pipeline graph to completion
  validate <workflow>      lint a pipeline graph and report diagnostics
  show <workflow>          render a pipeline graph for human inspection
  list-models              list models known to a catalog file

run a "--help" after any command for its flags.`)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, along with a
// function that must be called to stop the signal goroutine. A run
// terminated this way reports exit code 130, matching the shell convention
// for SIGINT.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-done:
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}
