package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fabiocdo/hb-store-cdn/internal/api"
	"github.com/fabiocdo/hb-store-cdn/internal/metrics"
	"github.com/fabiocdo/hb-store-cdn/internal/scheduler"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and download API until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics.MustRegisterAll(registry)

	sched, err := scheduler.New(
		scheduler.ReconcilerFunc(func(ctx context.Context) (scheduler.CycleResult, error) { return a.Cycle.Run(ctx) }),
		scheduler.Config{IntervalSeconds: a.Config.WatcherPeriodicScanSeconds, CronExpression: a.Config.WatcherCronExpression},
		a.Log.WithName("scheduler"),
	)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	apiDeps := &api.Dependencies{
		Repo:        a.Repo,
		StoreDBPath: a.StoreDBPath,
		Publisher:   a.Publisher,
		Log:         a.Log.WithName("api"),
	}
	httpServer := &api.Server{
		Addr:    fmt.Sprintf("%s:%d", a.Config.ServerIP, a.Config.ServerPort),
		Handler: metrics.AddMetricsToHandler(api.NewMux(apiDeps)),
		Log:     a.Log.WithName("api"),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &api.Server{
		Addr:    fmt.Sprintf("%s:%d", a.Config.ServerIP, a.Config.ServerPort+1),
		Handler: metricsMux,
		Log:     a.Log.WithName("metrics"),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gCtx) })
	g.Go(func() error { return httpServer.Run(gCtx) })
	g.Go(func() error { return metricsServer.Run(gCtx) })

	return g.Wait()
}
