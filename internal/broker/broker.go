// Package broker terminates the client-facing ROUTER socket, enforces
// queue backpressure, and drives the worker pool from a fixed set of
// request worker goroutines.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cillow-dev/cillow/internal/adapter/observability"
	"github.com/cillow-dev/cillow/internal/adapter/wire"
	"github.com/cillow-dev/cillow/internal/domain"
)

// Options configures a Broker.
type Options struct {
	// Addr is the ZeroMQ endpoint to bind, e.g. tcp://127.0.0.1:5556.
	Addr string
	// WorkerThreads is the number of request worker goroutines (W).
	WorkerThreads int
	// QueueSize bounds the request queue (Q).
	QueueSize int
	// StopGrace is passed to the pool when draining.
	StopGrace time.Duration
}

// job is one accepted request plus the reply identity that routes its
// response frames back.
type job struct {
	id     string
	client domain.ClientID
	req    domain.Request
}

// Broker is the network-facing request broker.
type Broker struct {
	opts Options
	pool domain.WorkerPool
	log  *slog.Logger

	sock   zmq4.Socket
	sendMu sync.Mutex

	jobs       chan job
	drainMu    sync.Mutex // serializes enqueues against closing the queue
	draining   atomic.Bool
	acceptDone chan struct{}
	wg         sync.WaitGroup

	closeOnce sync.Once
}

// New builds a Broker over pool.
func New(opts Options, pool domain.WorkerPool, log *slog.Logger) *Broker {
	return &Broker{
		opts:       opts,
		pool:       pool,
		log:        log,
		jobs:       make(chan job, opts.QueueSize),
		acceptDone: make(chan struct{}),
	}
}

// Start binds the socket and launches the accept loop and worker threads.
// The socket's lifetime is owned by Shutdown, not ctx, so a cancelled run
// context cannot cut off the drain replies.
func (b *Broker) Start(ctx context.Context) error {
	b.sock = zmq4.NewRouter(context.Background())
	if err := b.sock.Listen(b.opts.Addr); err != nil {
		return fmt.Errorf("op=broker.Start listen %s: %w", b.opts.Addr, err)
	}
	b.log.Info("listening",
		slog.String("addr", b.Addr()),
		slog.Int("worker_threads", b.opts.WorkerThreads),
		slog.Int("queue_size", b.opts.QueueSize))

	for i := 0; i < b.opts.WorkerThreads; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	go b.accept()
	return nil
}

// Run starts the broker and blocks until ctx is cancelled, then performs
// the graceful shutdown sequence.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	b.Shutdown()
	return nil
}

// Addr reports the bound endpoint as a dialable URI; useful when the
// configured port was ephemeral.
func (b *Broker) Addr() string {
	if addr := b.sock.Addr(); addr != nil {
		return fmt.Sprintf("%s://%s", addr.Network(), addr.String())
	}
	return b.opts.Addr
}

// Shutdown drains pending jobs with Shutdown exceptions, terminates the
// pool, and closes the socket. The socket stays open until the drain
// finishes so the refusal frames can still be delivered.
func (b *Broker) Shutdown() {
	b.closeOnce.Do(func() {
		b.log.Info("shutting down")
		b.drainMu.Lock()
		b.draining.Store(true)
		close(b.jobs)
		b.drainMu.Unlock()
		b.wg.Wait()
		_ = b.sock.Close() // unblocks the accept loop
		<-b.acceptDone
		b.pool.Close(b.opts.StopGrace)
		b.log.Info("shutdown complete")
	})
}

// accept reads multipart messages off the router socket, parses the
// payload, and enqueues. It never blocks on a full queue: the surplus
// request is refused synchronously with ServerBusy.
func (b *Broker) accept() {
	defer close(b.acceptDone)
	for {
		msg, err := b.sock.Recv()
		if err != nil {
			if b.draining.Load() {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			b.log.Error("socket receive failed", slog.Any("error", err))
			return
		}
		if len(msg.Frames) < 2 {
			b.log.Warn("short multipart message", slog.Int("frames", len(msg.Frames)))
			continue
		}
		// REQ clients insert an empty delimiter frame; DEALER clients don't.
		client := domain.ClientID(msg.Frames[0])
		payload := msg.Frames[len(msg.Frames)-1]

		req, err := wire.UnmarshalRequest(payload)
		if err != nil {
			observability.RequestsRefusedTotal.WithLabelValues("malformed").Inc()
			b.reply(client, domain.ExceptionFrom(domain.ErrMalformedRequest), domain.EndFrame())
			continue
		}
		observability.RequestsTotal.WithLabelValues(string(req.Kind)).Inc()

		j := job{id: ulid.Make().String(), client: client, req: req}
		b.drainMu.Lock()
		if b.draining.Load() {
			b.drainMu.Unlock()
			b.reply(client, domain.ExceptionFrom(domain.ErrShutdown), domain.EndFrame())
			continue
		}
		select {
		case b.jobs <- j:
			observability.QueueDepth.Inc()
			b.drainMu.Unlock()
		default:
			b.drainMu.Unlock()
			observability.RequestsRefusedTotal.WithLabelValues("server_busy").Inc()
			b.reply(client, domain.ExceptionFrom(domain.ErrServerBusy), domain.EndFrame())
		}
	}
}

// worker pulls jobs and relays every response frame back to the job's
// client identity, in order, until END.
func (b *Broker) worker(ctx context.Context) {
	defer b.wg.Done()
	for j := range b.jobs {
		observability.QueueDepth.Dec()
		if b.draining.Load() {
			b.reply(j.client, domain.ExceptionFrom(domain.ErrShutdown), domain.EndFrame())
			continue
		}
		b.process(ctx, j)
	}
}

func (b *Broker) process(ctx context.Context, j job) {
	timer := prometheus.NewTimer(observability.RequestDuration.WithLabelValues(string(j.req.Kind)))
	defer timer.ObserveDuration()

	log := b.log.With(slog.String("job_id", j.id), slog.String("kind", string(j.req.Kind)))
	log.Debug("job started")

	emit := func(f domain.Frame) {
		observability.FramesRelayedTotal.WithLabelValues(string(f.Kind)).Inc()
		b.reply(j.client, f)
	}

	switch j.req.Kind {
	case domain.SwitchInterpreter:
		env, err := j.req.Env.Normalize()
		if err == nil {
			err = b.pool.Ensure(ctx, j.client, env)
		}
		if err != nil {
			emit(domain.ExceptionFrom(err))
		} else {
			emit(domain.NewResult(env.String()))
		}
		emit(domain.EndFrame())

	case domain.DeleteInterpreter:
		b.pool.Delete(j.client, j.req.Env)
		emit(domain.NewResult(nil))
		emit(domain.EndFrame())

	case domain.ShutdownClient:
		n := b.pool.RemoveClient(j.client)
		log.Info("client left", slog.Int("workers_reaped", n))
		emit(domain.NewResult(nil))
		emit(domain.EndFrame())

	case domain.ListEnvironments:
		envs := b.pool.Environments(j.client)
		out := make([]string, len(envs))
		for i, e := range envs {
			out[i] = e.String()
		}
		emit(domain.NewResult(out))
		emit(domain.EndFrame())

	default:
		b.pool.Dispatch(ctx, j.client, j.req, emit)
	}
	log.Debug("job finished")
}

// reply sends frames to a client identity. The socket is not safe for
// concurrent sends; the mutex serializes worker threads and the accept
// loop's synchronous refusals.
func (b *Broker) reply(client domain.ClientID, frames ...domain.Frame) {
	for _, f := range frames {
		payload, err := wire.MarshalFrame(f)
		if err != nil {
			b.log.Error("frame marshal failed", slog.Any("error", err))
			return
		}
		b.sendMu.Lock()
		err = b.sock.Send(zmq4.NewMsgFrom([]byte(client), payload))
		b.sendMu.Unlock()
		if err != nil {
			// The client may be gone; per policy this never takes the
			// broker down.
			b.log.Debug("frame send failed", slog.Any("error", err))
			return
		}
	}
}
