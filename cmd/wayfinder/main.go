package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "validate":
		validateCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  wayfinder run --graph <graph.json> --pages <pages.json> [--config <run.yaml>] [--no-repair]")
	fmt.Fprintln(os.Stderr, "  wayfinder validate --graph <graph.json> [--fix]")
}
