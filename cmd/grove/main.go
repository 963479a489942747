// Command grove is the CLI for the grove goal ledger.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/grove/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "grove:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
