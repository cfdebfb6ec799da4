// Package observability provides the slog logger setup and the Prometheus
// collectors for the broker and worker processes.
package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/cillow-dev/cillow/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	return setupLogger(cfg, "cillow-server", os.Stdout)
}

// SetupWorkerLogger is SetupLogger for the interpreter worker process,
// where stdout carries the frame channel and logs must go to stderr.
func SetupWorkerLogger(cfg config.Config) *slog.Logger {
	return setupLogger(cfg, "cillow-worker", os.Stderr)
}

func setupLogger(cfg config.Config, service string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, opts)
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("env", cfg.AppEnv),
	)
}
