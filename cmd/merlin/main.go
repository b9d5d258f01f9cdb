// Command merlin simulates, replays and traces activity plans.
package main

import (
	"os"

	"github.com/roach88/merlin/internal/cli"
)

func main() {
	// Execute prints the error on stderr.
	if err := cli.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
