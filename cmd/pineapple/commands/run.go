package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/report"
	"github.com/athrane/pineapple-sub012/pkg/workspace"
)

type runFlags struct {
	environment       string
	resource          string
	continueOnFailure bool
}

func newTestCommand() *cobra.Command {
	return newOperationCommand(engine.OperationTest,
		"Compare a model document with a live system",
		`Walk the model document and compare every attribute with the live
system. Nothing is changed. Missing objects and differing attributes are
reported as failures with the expected and actual values.`,
		`  # Test the domain model against the dev domain
  pineapple test model/domain.cue --env dev --resource domain

  # Keep comparing after the first failure
  pineapple test model/domain.cue -e dev -r domain --continue-on-failure

  # Print the result tree as JSON
  pineapple test model/domain.cue -e dev -r domain -o json`)
}

func newConfigureCommand() *cobra.Command {
	return newOperationCommand(engine.OperationConfigure,
		"Push a model document to a live system",
		`Walk the model document and write every attribute to the live system.
Missing objects are created. Changes are made in one edit session that is
activated when the walk succeeds and cancelled otherwise.

Pre-flight policies are evaluated before the live system is touched.`,
		`  # Configure the billing deployment on prod
  pineapple configure model/billing.cue --env prod --resource domain`)
}

func newOperationCommand(op engine.OperationName, short, long, example string) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:     string(op) + " <document>",
		Short:   short,
		Long:    long,
		Example: example,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := workspace.Selection{
				Operation:   op,
				Environment: flags.environment,
				Resource:    flags.resource,
				Document:    args[0],
			}
			if cmd.Flags().Changed("continue-on-failure") {
				sel.ContinueOnFailure = &flags.continueOnFailure
			}
			return executeRun(cmd.Context(), cmd.Root().Version, sel)
		},
	}

	cmd.Flags().StringVarP(&flags.environment, "env", "e", "", "environment name")
	cmd.Flags().StringVarP(&flags.resource, "resource", "r", "", "resource id within the environment")
	cmd.Flags().BoolVar(&flags.continueOnFailure, "continue-on-failure", false, "keep visiting siblings after a failure")
	_ = cmd.MarkFlagRequired("env")
	_ = cmd.MarkFlagRequired("resource")

	return cmd
}

// executeRun runs a selection to completion and prints its report.
func executeRun(ctx context.Context, version string, sel workspace.Selection) error {
	format, err := reportFormat()
	if err != nil {
		return err
	}

	ctx, a, err := newApp(ctx, version)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	req, err := a.workspace.Request(ctx, sel)
	if err != nil {
		return err
	}

	log.Info().
		Str("operation", string(sel.Operation)).
		Str("environment", sel.Environment).
		Str("resource", sel.Resource).
		Str("document", req.Document.Source()).
		Msg("Running")

	run, err := a.runner.Execute(ctx, req)
	if err != nil {
		return err
	}

	var rep *report.Report
	if run.Result != nil {
		tree := run.Result.Snapshot()
		rep = report.New(run, &tree)
	} else {
		rep = report.New(run, nil)
	}
	if err := report.Write(os.Stdout, rep, format, reportOptions()); err != nil {
		return err
	}

	if run.Status != engine.RunStatusSucceeded {
		return fmt.Errorf("%w: %s", ErrRunNotSuccessful, run.Status)
	}
	return nil
}
