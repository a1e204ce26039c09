package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/config"
	"github.com/warpmetrics/coder/internal/lifecycle"
	"github.com/warpmetrics/coder/pkg/graph"
)

// knownExecutors is the fixed set of executor identifiers run.go
// registers. validate checks the graph against this set without
// standing up any collaborator adapter, so it can run offline in CI.
var knownExecutors = map[string]bool{
	"implement_exec":    true,
	"await_reply_exec":  true,
	"await_review_exec": true,
	"revise_exec":       true,
	"merge_exec":        true,
	"await_deploy_exec": true,
	"run_deploy_exec":   true,
	"release_exec":      true,
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compile the lifecycle graph and the config file, reporting violations without starting the supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateAll(cmd)
		},
	}
}

func validateAll(cmd *cobra.Command) error {
	if _, err := config.Load(flagConfigPath); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config %s: ok\n", flagConfigPath)

	doc, err := lifecycle.Load(flagLifecyclePath)
	if err != nil {
		return fmt.Errorf("lifecycle document: %w", err)
	}
	g, err := graph.Compile(doc, "implement")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "lifecycle graph %s: ok (%d nodes)\n", flagLifecyclePath, len(g.Nodes))

	var missing []string
	for name, node := range g.Nodes {
		if node.IsGroup() {
			continue
		}
		if !knownExecutors[node.Executor] {
			missing = append(missing, fmt.Sprintf("%s: executor %q is not implemented", name, node.Executor))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("unimplemented executors:\n  %s", joinLines(missing))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "executors: ok")
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n  "
		}
		out += l
	}
	return out
}
