// Package main provides the interpreter worker entry point. The broker
// spawns one of these per (client, environment); stdin/stdout carry the
// framed channel and stderr carries logs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cillow-dev/cillow/internal/adapter/observability"
	"github.com/cillow-dev/cillow/internal/adapter/wire"
	"github.com/cillow-dev/cillow/internal/config"
	"github.com/cillow-dev/cillow/internal/domain"
	"github.com/cillow-dev/cillow/internal/interp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupWorkerLogger(cfg)
	slog.SetDefault(logger)

	env := domain.Environment(os.Getenv("CILLOW_WORKER_ENVIRONMENT"))
	ev, err := interp.NewEvaluator(env)
	if err != nil {
		// Report the failure on the channel so the broker can translate
		// it, then exit; the spawner is waiting on the first frame.
		out := wire.NewStreamWriter(os.Stdout)
		frame := domain.ExceptionFrom(err)
		if !errors.Is(err, domain.ErrUnknownEnvironment) {
			frame = domain.NewException(domain.ExcWorkerStartup, err.Error(), "")
		}
		_ = out.WriteFrame(frame)
		logger.Error("evaluator startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	interp.RegisterHooks(
		interp.NewStdStreamsHook(ev),
		interp.NewImageShowHook(ev),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := interp.NewWorker(ev, os.Stdin, os.Stdout, logger)
	if err := w.Run(ctx); err != nil {
		logger.Error("worker loop failed", slog.Any("error", err))
		os.Exit(1)
	}
}
