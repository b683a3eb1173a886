package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danshapiro/attractorctl/internal/attractor/engine"
	"github.com/danshapiro/attractorctl/internal/attractor/graphdoc"
	"github.com/danshapiro/attractorctl/internal/attractor/validate"
)

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	modelOverride := fs.String("model", "", "override llm_model on every node that doesn't set one")
	providerOverride := fs.String("provider", "", "override llm_provider on every node that doesn't set one")
	toolsOverride := fs.String("tools", "", "override tool_mode on every node that doesn't set one")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: attractorctl validate [flags] <workflow>")
		fs.PrintDefaults()
		return 2
	}

	g, err := graphdoc.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}
	applyOverrides(g, *modelOverride, *providerOverride, *toolsOverride)

	knownTypes := engine.NewDefaultRegistry(nil, nil, nil, nil).KnownTypes()
	diags := validate.Validate(g, validate.NewTypeKnownRule(knownTypes))

	errCount, warnCount := 0, 0
	for _, d := range diags {
		loc := ""
		switch {
		case d.NodeID != "":
			loc = "node " + d.NodeID
		case d.EdgeFrom != "" || d.EdgeTo != "":
			loc = fmt.Sprintf("edge %s->%s", d.EdgeFrom, d.EdgeTo)
		}
		fmt.Printf("%s [%s] %s", d.Severity, d.Rule, d.Message)
		if loc != "" {
			fmt.Printf(" (%s)", loc)
		}
		fmt.Println()
		if d.Fix != "" {
			fmt.Printf("  fix: %s\n", d.Fix)
		}
		switch d.Severity {
		case validate.SeverityError:
			errCount++
		case validate.SeverityWarning:
			warnCount++
		}
	}
	fmt.Printf("%d error(s), %d warning(s)\n", errCount, warnCount)
	if errCount > 0 {
		return 1
	}
	return 0
}
