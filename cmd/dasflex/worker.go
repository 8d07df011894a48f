package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCommand(c *command) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Build cache blocks and catalogs from the work queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.work(cmd.Context(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run at most one job, then exit")
	return cmd
}

func (c *command) work(parent context.Context, once bool) error {
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

	rt := a.worker(c.cfg.Worker.Concurrency)
	if once {
		ran, err := rt.RunOnce(ctx)
		c.logger.Info("Worker pass finished", "ran", ran, "stats", rt.Stats())
		return err
	}
	return rt.Run(ctx)
}
