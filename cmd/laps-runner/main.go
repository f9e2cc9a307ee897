package main

// Entry point for the worker-side module runner harness.

import (
	"fmt"
	"os"

	"github.com/LAPS-Group/laps/internal/cli"
)

func main() {
	if err := cli.BuildRunnerCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
