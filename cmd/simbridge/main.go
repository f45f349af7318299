// Command simbridge runs scripted scenarios against the simulation bridge
// and inspects archived runs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/simbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
