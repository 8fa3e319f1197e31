package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/report"
	"github.com/athrane/pineapple-sub012/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		status   string
		resource string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Example: `  # Show the last 20 runs
  pineapple runs

  # Show failed runs against one resource
  pineapple runs --status failed --resource domain`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.RunFilter{
				Status:   engine.RunStatus(status),
				Resource: resource,
				Limit:    limit,
			}
			if filter.Status != "" {
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}
			format, err := reportFormat()
			if err != nil {
				return err
			}

			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			switch format {
			case report.FormatJSON:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			case report.FormatYAML:
				infos := make([]report.RunInfo, 0, len(runs))
				for _, run := range runs {
					infos = append(infos, report.New(run, nil).Run)
				}
				return yaml.NewEncoder(os.Stdout).Encode(infos)
			default:
				fmt.Print(report.RenderRuns(runs, reportOptions()))
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().StringVar(&resource, "resource", "", "only runs against this resource")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs, 0 for all")

	return cmd
}

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show the result tree of a recorded run",
		Example: `  # Show a run with all messages
  pineapple report 3f1c0d2e-... --all-messages

  # Export a run as YAML
  pineapple report 3f1c0d2e-... -o yaml > run.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := reportFormat()
			if err != nil {
				return err
			}

			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return err
			}
			tree, err := store.GetResultTree(cmd.Context(), run.ID)
			if err != nil && !errors.Is(err, stores.ErrNotFound) {
				return err
			}

			return report.Write(os.Stdout, report.New(run, tree), format, reportOptions())
		},
	}

	return cmd
}
