package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clinical-reasoning-engine/internal/api"
	"github.com/clinical-reasoning-engine/internal/app"
)

func (c *cli) serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API on localhost with the local report history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				c.cfg.HTTPPort = port
			}
			if err := c.cfg.EnsureDataDir(); err != nil {
				return err
			}
			cfg := c.cfg.ServiceConfig()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := app.OpenHistory(ctx, cfg, c.logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			server := api.NewServer(cfg, api.Dependencies{
				Knowledge: c.registry,
				Store:     store,
			}, c.logger)

			c.logger.Infof("Data directory: %s", c.cfg.DataDir)
			return server.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: CRE_HTTP_PORT or 8080)")
	return cmd
}
