// Package main provides the broker entry point: the network-facing process
// that owns the client socket and the interpreter worker pool.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cillow-dev/cillow/internal/adapter/observability"
	"github.com/cillow-dev/cillow/internal/adapter/procworker"
	"github.com/cillow-dev/cillow/internal/broker"
	"github.com/cillow-dev/cillow/internal/config"
	"github.com/cillow-dev/cillow/internal/pool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics server error", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting broker",
		slog.Int("max_interpreters", cfg.MaxInterpreters),
		slog.Int("interpreters_per_client", cfg.InterpretersPerClient),
		slog.Int("worker_threads", cfg.WorkerThreads),
		slog.Int("queue_size", cfg.QueueSize))

	spawner := procworker.NewSpawner(cfg.WorkerBin, logger)
	p := pool.New(pool.Options{
		MaxTotal:     cfg.MaxInterpreters,
		MaxPerClient: cfg.InterpretersPerClient,
		SpawnTimeout: cfg.SpawnTimeout,
		StopGrace:    cfg.ShutdownGrace,
		IdleTimeout:  cfg.WorkerIdleTimeout,
	}, spawner, logger)

	b := broker.New(broker.Options{
		Addr:          cfg.BindAddr(),
		WorkerThreads: cfg.WorkerThreads,
		QueueSize:     cfg.QueueSize,
		StopGrace:     cfg.ShutdownGrace,
	}, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		slog.Error("broker failed", slog.Any("error", err))
		os.Exit(1)
	}
}
