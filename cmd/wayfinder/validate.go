package main

import (
	"fmt"
	"os"

	"github.com/danshapiro/wayfinder/internal/taskgraph"
)

func validateCmd(args []string) {
	var graphPath string
	var fix bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--graph requires a value")
				os.Exit(1)
			}
			graphPath = args[i]
		case "--fix":
			fix = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" {
		usage()
		os.Exit(1)
	}

	g, err := loadGraph(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fixed, ok, diags := taskgraph.ValidateWithFix(g, fix)
	printDiagnostics(diags)
	if !ok {
		os.Exit(1)
	}
	if fix && fixed != g {
		fmt.Fprintln(os.Stderr, "graph repaired: back edges dropped")
	}
	fmt.Println("valid")
}

func hasErrorDiag(diags []taskgraph.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == taskgraph.SeverityError {
			return true
		}
	}
	return false
}

func printDiagnostics(diags []taskgraph.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", d.Severity, d.Rule, d.Message)
	}
}
