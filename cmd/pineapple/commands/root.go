package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	workDir      string
	envFile      string
	dbPath       string
	policyPaths  []string
	outputFormat string
	noColor      bool
	allMessages  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pineapple",
		Short: "Pineapple - model driven configuration of live systems",
		Long: `Pineapple compares model documents with live systems and pushes the
model to them.

A model document describes a domain, a deployment or host infrastructure
in CUE. Environments (pineapple.cue) name the live systems of each stage
and the properties substituted into the model.

Features:
  - test: walk the model and compare every attribute with the live system
  - configure: walk the model and write every attribute to the live system
  - Pre-flight policies (OPA/rego)
  - Run history with full result trees (SQLite)
  - HTTP API with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", ".", "model directory")
	rootCmd.PersistentFlags().StringVarP(&envFile, "config", "c", "", "environment configuration (default <dir>/pineapple.cue)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "run history database, empty to disable")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policies", nil, "additional policy files or directories")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&allMessages, "all-messages", false, "print every message of every result node")

	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newConfigureCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
