// Command warpcoder runs the autonomous issue-to-release agent: it
// compiles the configured lifecycle graph, polls the configured board,
// and dispatches acts against the configured collaborators until
// stopped.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
