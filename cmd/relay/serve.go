package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/longrelay/internal/health"
	"github.com/stupiduntilnot/longrelay/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := prepareConfig(ctx, &cfg); err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", zap.Error(err))
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Run(gctx, net.JoinHostPort("", cfg.Port), logger)
	})
	g.Go(func() error {
		return a.run(gctx)
	})
	err = g.Wait()
	logger.Info("relay stopped", zap.Error(err))
	return err
}
