package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	inventoryPath string
	verbose       bool
	jsonOutput    bool
)

// ErrTasksFailed marks a run that completed with failed tasks, so main
// can map it to a distinct exit code.
var ErrTasksFailed = errors.New("tasks failed")

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Stagehand - Playbook Orchestration Engine",
		Long: `Stagehand is a configuration-management control node: it runs
declarative playbooks of idempotent tasks against an inventory of
hosts and groups.

Features:
  - Deterministic group/play/host variable precedence
  - Pluggable module registry with check mode
  - Per-host failure isolation and at-most-once handlers
  - Tag and host filtering
  - Optional run history in SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "", "inventory file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newInventoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stagehand %s\n  commit: %s\n  built:  %s\n", version, commit, buildDate)
		},
	}
}
