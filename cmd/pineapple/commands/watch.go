package commands

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/report"
	"github.com/athrane/pineapple-sub012/pkg/workspace"
)

func newWatchCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "watch <document>",
		Short: "Re-test a model document whenever the model changes",
		Long: `Run the test operation once, then again every time a CUE file in the
model directory changes. Changes to the environment configuration are
picked up as well.`,
		Example: `  # Keep testing the domain model against dev while editing it
  pineapple watch model/domain.cue --env dev --resource domain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := reportFormat()
			if err != nil {
				return err
			}

			ctx, a, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			sel := workspace.Selection{
				Operation:   engine.OperationTest,
				Environment: flags.environment,
				Resource:    flags.resource,
				Document:    args[0],
			}
			if cmd.Flags().Changed("continue-on-failure") {
				sel.ContinueOnFailure = &flags.continueOnFailure
			}

			var mu sync.Mutex
			rerun := func() {
				mu.Lock()
				defer mu.Unlock()
				a.workspace.Invalidate()
				if err := watchRun(ctx, a, sel, format); err != nil {
					log.Error().Err(err).Msg("Run failed")
				}
			}

			rerun()

			watcher := config.NewWatcher(a.logger, 0)
			err = watcher.Watch(ctx, []string{a.workspace.Dir(), a.workspace.EnvironmentPath()}, func(changed []string) {
				log.Info().Strs("changed", changed).Msg("Model changed")
				_ = a.tel.Events.ModelChanged(changed)
				rerun()
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.environment, "env", "e", "", "environment name")
	cmd.Flags().StringVarP(&flags.resource, "resource", "r", "", "resource id within the environment")
	cmd.Flags().BoolVar(&flags.continueOnFailure, "continue-on-failure", false, "keep visiting siblings after a failure")
	_ = cmd.MarkFlagRequired("env")
	_ = cmd.MarkFlagRequired("resource")

	return cmd
}

func watchRun(ctx context.Context, a *app, sel workspace.Selection, format report.Format) error {
	req, err := a.workspace.Request(ctx, sel)
	if err != nil {
		return err
	}
	run, err := a.runner.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, engine.ErrPolicyViolation) {
			log.Warn().Err(err).Msg("Run denied")
			return nil
		}
		return err
	}

	tree := run.Result.Snapshot()
	return report.Write(os.Stdout, report.New(run, &tree), format, reportOptions())
}
