package cli

import (
	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/api"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/logger"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(o *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health monitor and the local caching server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = o.settings.Server.Listen
			}
			return o.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.InstallWorker(cmd.Context()); err != nil {
					o.logger.Warn("service worker not installed, retrying when online", logger.Error(err))
				}
				server, err := api.NewServer(a, o.logger)
				if err != nil {
					return err
				}

				g, ctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error { return a.Run(ctx) })
				g.Go(func() error { return server.Start(ctx, listen) })
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default server.listen)")
	return cmd
}
