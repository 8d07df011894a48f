package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve das2, das3 and HAPI data requests",
		Long: `serve answers data and catalog requests over HTTP and WebSocket.

With server.embedded_workers above zero the process also runs cache workers
against the configured broker, which makes a memory broker usable for a
single node install.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *command) serve(parent context.Context) error {
	if err := c.validConfig(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	c.logger.Info("Starting dasflex server",
		"listen", c.cfg.Server.Listen,
		"source_root", c.cfg.Server.SourceRoot,
		"broker", c.cfg.Broker.Kind,
		"cache", c.cfg.Cache.Enabled,
		"embedded_workers", c.cfg.Server.EmbeddedWorkers)

	g, gctx := errgroup.WithContext(ctx)
	srv := a.server()
	g.Go(func() error {
		return srv.ListenAndServe(gctx, c.cfg.Server.Listen, c.cfg.Server.ShutdownTimeout)
	})
	if n := c.cfg.Server.EmbeddedWorkers; n > 0 {
		rt := a.worker(n)
		g.Go(func() error {
			return rt.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("dasflex server stopped")
	return nil
}
