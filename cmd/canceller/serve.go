package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"txcanceller/internal/application"
	"txcanceller/internal/interfaces/httpapi"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic stuck-transaction sweeper",
	RunE:  runServe,
}

var serveNoSweep bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "Serve the API without the periodic sweeper")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{withSender: true, withEvents: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	server, err := httpapi.NewServer(httpapi.Config{
		StuckAfter:  cfg.StuckAfter,
		Concurrency: cfg.SweepConcurrency,
	}, httpapi.Dependencies{
		Canceller: rt.canceller,
		Store:     rt.store,
		RPC:       rt.rpc,
		History:   rt.history,
		Metrics:   rt.metrics,
	}, httpapi.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("http api listening", "addr", cfg.HTTPAddr)
		return server.ListenAndServe(groupCtx, cfg.HTTPAddr)
	})
	if !serveNoSweep {
		sweeper, err := application.NewSweeper(rt.canceller, application.SweeperConfig{
			StuckAfter:   cfg.StuckAfter,
			PollInterval: cfg.SweepInterval,
			Concurrency:  cfg.SweepConcurrency,
		})
		if err != nil {
			return err
		}
		group.Go(func() error {
			slog.Info("sweeper started", "stuck_after", cfg.StuckAfter, "interval", cfg.SweepInterval)
			return sweeper.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("canceller stopped")
	return nil
}
