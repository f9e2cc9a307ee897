package main

// Entry point for the LAPS coordination backend. All logic lives in
// internal/cli.

import (
	"fmt"
	"os"

	"github.com/LAPS-Group/laps/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
