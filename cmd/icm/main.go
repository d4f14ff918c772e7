// Command icm executes incentive compensation plans.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/icm/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
