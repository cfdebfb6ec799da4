package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cillow-dev/cillow/internal/adapter/wire"
	"github.com/cillow-dev/cillow/internal/domain"
)

// Worker is the interpreter worker's main loop: read one request frame,
// dispatch, emit zero or more output frames, then exactly one RESULT or
// EXCEPTION, then END. Strictly serial; the per-request ordering guarantee
// falls out of that.
type Worker struct {
	ev  *Evaluator
	in  *wire.StreamReader
	out *wire.StreamWriter
	log *slog.Logger
}

// NewWorker wires an evaluator to its broker channel.
func NewWorker(ev *Evaluator, in io.Reader, out io.Writer, log *slog.Logger) *Worker {
	return &Worker{ev: ev, in: wire.NewStreamReader(in), out: wire.NewStreamWriter(out), log: log}
}

// Run reports READY and serves requests until the channel closes or ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.out.WriteFrame(domain.ReadyFrame()); err != nil {
		return fmt.Errorf("op=interp.Worker.Run ready: %w", err)
	}
	w.log.Info("worker ready", slog.String("environment", w.ev.Environment().String()))

	for {
		req, err := w.in.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("op=interp.Worker.Run read: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		w.serve(ctx, req)
	}
}

func (w *Worker) serve(ctx context.Context, req domain.Request) {
	emit := func(f domain.Frame) {
		if err := w.out.WriteFrame(f); err != nil {
			w.log.Error("frame write failed", slog.Any("error", err))
		}
	}

	w.log.Debug("request", slog.String("kind", string(req.Kind)))
	var terminal domain.Frame
	switch req.Kind {
	case domain.RunCode:
		terminal = w.ev.RunCode(ctx, req.Source, emit)
	case domain.RunCommand:
		terminal = w.ev.RunCommand(ctx, req.Argv, emit)
	case domain.InstallRequirements:
		terminal = w.ev.Install(ctx, req.Names, emit)
	case domain.SetEnvVars:
		terminal = w.ev.SetEnvVars(req.EnvVars)
	default:
		terminal = domain.NewException(domain.ExcMalformed,
			fmt.Sprintf("request kind %q is not handled by workers", req.Kind), "")
	}
	emit(terminal)
	emit(domain.EndFrame())
}
