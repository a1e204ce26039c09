package main

import (
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagConfigPath    string
	flagLifecyclePath string
	flagVerbose       bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warpcoder",
		Short: "Autonomous coding agent runner",
		Long: strings.TrimSpace(`
warpcoder drives issues through implementation, review, revision, merge,
deploy, and release by compiling a declarative lifecycle graph and
dispatching acts against configured board, code-host, and
code-generation collaborators.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "warpcoder.toml", "path to the TOML configuration file")
	cmd.PersistentFlags().StringVar(&flagLifecyclePath, "lifecycle", "config/lifecycle.yaml", "path to the lifecycle document")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newLogger() *charmlog.Logger {
	logger := charmlog.Default()
	if flagVerbose {
		logger.SetLevel(charmlog.DebugLevel)
	}
	return logger
}
