package main

import (
	"github.com/smallnest/debategraph/server"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debate HTTP API",
		Long: `Serve the debate HTTP API:

  POST   /api/debates                 start or resume a debate (server-sent events)
  GET    /api/debates                 list sessions
  GET    /api/debates/{id}            session state
  GET    /api/debates/{id}/history    every checkpoint of a session
  GET    /api/debates/{id}/summary    HTML summary of a finished debate
  DELETE /api/debates/{id}            delete a session
  GET    /metrics                     Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(a.engine,
				server.WithLogger(a.logger),
				server.WithMetrics(a.metrics, a.registry))
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
