package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/athrane/pineapple-sub012/pkg/api"
	"github.com/athrane/pineapple-sub012/pkg/policy"
)

func newServeCommand() *cobra.Command {
	var (
		addr          string
		watchPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API",
		Long: `Serve the HTTP API for starting and inspecting runs.

Routes:
  POST /runs            start a run
  GET  /runs            list runs
  GET  /runs/{id}       show a run and its result tree
  GET  /runs/{id}/wait  wait for a run to complete
  GET  /metrics         Prometheus metrics
  GET  /healthz         health check`,
		Example: `  # Serve on the default address
  pineapple serve

  # Reload site policies when they change
  pineapple serve --addr :9090 --policies ./policies --watch-policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if watchPolicies && len(policyPaths) > 0 {
				loader := policy.NewLoader(a.logger)
				if err := loader.Watch(ctx, policyPaths, a.policies.ReplacePolicies); err != nil {
					return err
				}
				defer func() { _ = loader.StopWatching() }()
			}

			opts := []api.Option{
				api.WithLogger(a.logger),
				api.WithMetricsHandler(a.tel.Metrics.Handler()),
			}
			if a.store != nil {
				opts = append(opts, api.WithRunReader(a.store))
			}

			server := api.NewServer(a.runner, a.workspace, opts...)
			log.Info().Str("dir", a.workspace.Dir()).Msg("Serving workspace")
			return server.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&watchPolicies, "watch-policies", false, "reload --policies when they change")

	return cmd
}
