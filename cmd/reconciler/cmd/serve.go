package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"reconciliation-engine/internal/api"

	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve PERIOD",
		Short: "Serve a period over the HTTP API",
		Long: `Serve loads a period and exposes the engine under /api/v1 until interrupted.
Set server.api_key (or RECONCILER_SERVER_API_KEY) to require an X-API-Key
header on every API request.

Examples:
  reconciler serve testdata/periods/q2-2024.yaml
  reconciler serve period.yaml --addr 127.0.0.1:9090 --journal journal.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := c.openPeriod(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			opts := []api.Option{
				api.WithLogger(c.logger),
				api.WithPeriod(api.Period{Account: s.period.Account, Source: s.period.Source}),
			}
			if s.journal != nil {
				opts = append(opts, api.WithEventStore(s.journal))
			}
			return api.NewServer(s.engine, c.cfg.Server, opts...).Run(ctx)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8080)")
	c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
