// Package procworker spawns interpreter worker subprocesses and exposes
// them to the pool as framed bidirectional channels over stdin/stdout.
package procworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cillow-dev/cillow/internal/adapter/wire"
	"github.com/cillow-dev/cillow/internal/domain"
)

// environmentVar tells a spawned worker which environment to activate.
const environmentVar = "CILLOW_WORKER_ENVIRONMENT"

// NewSpawner returns a Spawner that runs bin for each worker and blocks
// until the worker reports READY or ctx expires. The worker inherits the
// broker's environment; stderr passes through for logs, stdout carries the
// frame channel.
func NewSpawner(bin string, log *slog.Logger) domain.Spawner {
	return func(ctx context.Context, env domain.Environment) (domain.WorkerProc, error) {
		cmd := exec.Command(bin)
		cmd.Env = append(os.Environ(), environmentVar+"="+env.String())
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("op=procworker.spawn stdin: %w", domain.ErrWorkerStartup)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("op=procworker.spawn stdout: %w", domain.ErrWorkerStartup)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("op=procworker.spawn %s: %v: %w", bin, err, domain.ErrWorkerStartup)
		}

		p := &proc{
			cmd:    cmd,
			stdin:  stdin,
			in:     wire.NewStreamReader(stdout),
			out:    wire.NewStreamWriter(stdin),
			exited: make(chan struct{}),
		}
		go p.reap()

		if err := p.awaitReady(ctx); err != nil {
			_ = p.Stop(2 * time.Second)
			return nil, err
		}
		log.Info("worker spawned", slog.Int("pid", cmd.Process.Pid), slog.String("environment", env.String()))
		return p, nil
	}
}

// proc is one live worker subprocess.
type proc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	in    *wire.StreamReader
	out   *wire.StreamWriter

	closeOnce sync.Once
	exited    chan struct{}
	waitErr   error
}

func (p *proc) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// awaitReady consumes the worker's first frame. A worker that cannot
// activate its environment reports an EXCEPTION frame before exiting.
func (p *proc) awaitReady(ctx context.Context) error {
	type readResult struct {
		frame domain.Frame
		err   error
	}
	ch := make(chan readResult, 1)
	go func() {
		f, err := p.in.ReadFrame()
		ch <- readResult{frame: f, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("op=procworker.awaitReady: timed out: %w", domain.ErrWorkerStartup)
	case r := <-ch:
		switch {
		case r.err != nil:
			return fmt.Errorf("op=procworker.awaitReady: worker exited before READY: %w", domain.ErrWorkerStartup)
		case r.frame.Kind == domain.FrameReady:
			return nil
		case r.frame.Kind == domain.FrameException && r.frame.ExcType == domain.ExcUnknownEnv:
			return fmt.Errorf("op=procworker.awaitReady: %s: %w", r.frame.Message, domain.ErrUnknownEnvironment)
		default:
			return fmt.Errorf("op=procworker.awaitReady: unexpected %s frame: %w", r.frame.Kind, domain.ErrWorkerStartup)
		}
	}
}

// Send writes one request frame to the worker.
func (p *proc) Send(req domain.Request) error { return p.out.WriteRequest(req) }

// Recv reads the next response frame. Any transport failure is reported as
// EOF: from the pool's perspective the channel is gone either way.
func (p *proc) Recv() (domain.Frame, error) {
	f, err := p.in.ReadFrame()
	if err != nil {
		return domain.Frame{}, io.EOF
	}
	return f, nil
}

// Close closes the request side of the channel; an idle worker exits on its
// own once it reads EOF.
func (p *proc) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.stdin.Close() })
	return err
}

// Stop closes the channel and reaps the subprocess, escalating from
// SIGTERM to SIGKILL after the grace period.
func (p *proc) Stop(grace time.Duration) error {
	_ = p.Close()
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = p.cmd.Process.Kill()
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-p.exited
		return nil
	}
}

// Pid reports the subprocess pid.
func (p *proc) Pid() int { return p.cmd.Process.Pid }
