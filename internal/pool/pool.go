// Package pool owns the live set of interpreter workers keyed by
// (client, environment): admission, reuse, per-key request serialization,
// eviction, and termination.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cillow-dev/cillow/internal/adapter/observability"
	"github.com/cillow-dev/cillow/internal/domain"
)

// Options configures a Pool.
type Options struct {
	// MaxTotal is the global interpreter cap (Nmax).
	MaxTotal int
	// MaxPerClient is the per-client interpreter cap (Cmax).
	MaxPerClient int
	// SpawnTimeout bounds the wait for a new worker's READY frame.
	SpawnTimeout time.Duration
	// StopGrace is how long a terminating worker gets before kill.
	StopGrace time.Duration
	// IdleTimeout reclaims idle workers; zero disables the sweep.
	IdleTimeout time.Duration
}

// Pool implements domain.WorkerPool. One mutex guards the worker map and
// the per-client index; per-handle conditions serialize requests for the
// same key without holding the lock across a request.
type Pool struct {
	opts  Options
	spawn domain.Spawner
	log   *slog.Logger

	mu        sync.Mutex
	workers   map[domain.WorkerKey]*handle
	perClient map[domain.ClientID]map[domain.Environment]struct{}
	closed    bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// handle is one pooled worker. state transitions happen under the pool
// lock; cond (bound to the pool lock) wakes goroutines queued on the key.
type handle struct {
	key  domain.WorkerKey
	proc domain.WorkerProc

	state      domain.WorkerState
	terminated bool // set by Delete/RemoveClient/Close before the channel drops
	cond       *sync.Cond

	createdAt time.Time
	lastUsed  time.Time
}

// New builds a Pool around spawn.
func New(opts Options, spawn domain.Spawner, log *slog.Logger) *Pool {
	p := &Pool{
		opts:      opts,
		spawn:     spawn,
		log:       log,
		workers:   make(map[domain.WorkerKey]*handle),
		perClient: make(map[domain.ClientID]map[domain.Environment]struct{}),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go p.sweep()
	return p
}

// Dispatch routes req to the worker for (client, req.Env) and relays every
// response frame to emit, always terminating with exactly one END.
func (p *Pool) Dispatch(ctx context.Context, client domain.ClientID, req domain.Request, emit domain.EmitFunc) {
	env, err := req.Env.Normalize()
	if err != nil {
		p.refuse(emit, err)
		return
	}
	h, err := p.acquire(ctx, client, env)
	if err != nil {
		p.refuse(emit, err)
		return
	}

	if err := h.proc.Send(req); err != nil {
		p.emitChannelLoss(h, emit, false)
		return
	}
	terminalSeen := false
	for {
		f, err := h.proc.Recv()
		if err != nil {
			p.emitChannelLoss(h, emit, terminalSeen)
			return
		}
		if f.Kind == domain.FrameEnd {
			emit(f)
			p.release(h)
			return
		}
		if f.Kind == domain.FrameResult || f.Kind == domain.FrameException {
			terminalSeen = true
		}
		emit(f)
	}
}

// Ensure makes sure a worker exists for (client, env) under the same
// admission rules as Dispatch.
func (p *Pool) Ensure(ctx context.Context, client domain.ClientID, env domain.Environment) error {
	env, err := env.Normalize()
	if err != nil {
		return err
	}
	h, err := p.acquire(ctx, client, env)
	if err != nil {
		return err
	}
	p.release(h)
	return nil
}

// acquire returns the key's handle marked BUSY, spawning a worker if
// admission allows. Requests for a BUSY key queue on its condition, which
// yields the spec's per-key FIFO-by-acceptance ordering.
func (p *Pool) acquire(ctx context.Context, client domain.ClientID, env domain.Environment) (*handle, error) {
	key := domain.WorkerKey{Client: client, Env: env}

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, domain.ErrShutdown
		}
		h, ok := p.workers[key]
		if !ok {
			break
		}
		if h.state == domain.WorkerIdle {
			h.state = domain.WorkerBusy
			p.mu.Unlock()
			return h, nil
		}
		// Starting, busy, or terminating: wait for the next transition.
		h.cond.Wait()
	}

	// Admission. The quota checks and the reservation happen atomically;
	// the reservation keeps both caps exact while the spawn runs unlocked.
	if len(p.perClient[client]) >= p.opts.MaxPerClient {
		p.mu.Unlock()
		return nil, domain.ErrPerClientQuota
	}
	if len(p.workers) >= p.opts.MaxTotal {
		p.mu.Unlock()
		return nil, domain.ErrGlobalQuota
	}
	h := &handle{key: key, state: domain.WorkerStarting, createdAt: time.Now()}
	h.cond = sync.NewCond(&p.mu)
	p.workers[key] = h
	if p.perClient[client] == nil {
		p.perClient[client] = make(map[domain.Environment]struct{})
	}
	p.perClient[client][env] = struct{}{}
	p.mu.Unlock()

	spawnCtx, cancel := context.WithTimeout(ctx, p.opts.SpawnTimeout)
	proc, err := p.spawn(spawnCtx, env)
	cancel()

	p.mu.Lock()
	if err != nil {
		p.dropLocked(h)
		p.mu.Unlock()
		return nil, fmt.Errorf("op=pool.acquire env=%q: %w", env.String(), err)
	}
	if p.closed {
		// Close ran during the spawn and could not see this proc yet.
		if p.workers[key] == h {
			p.dropLocked(h)
		}
		p.mu.Unlock()
		go func() { _ = proc.Stop(p.opts.StopGrace) }()
		return nil, domain.ErrShutdown
	}
	h.proc = proc
	h.state = domain.WorkerBusy // direct handoff to the reserver
	h.lastUsed = time.Now()
	p.mu.Unlock()

	observability.WorkerSpawnsTotal.Inc()
	observability.PoolWorkers.Set(float64(p.size()))
	p.log.Info("worker added",
		slog.String("client", string(client)),
		slog.String("environment", env.String()),
		slog.Int("pid", proc.Pid()))
	return h, nil
}

// release returns a BUSY handle to IDLE and wakes the key's queue.
func (p *Pool) release(h *handle) {
	p.mu.Lock()
	if p.workers[h.key] == h {
		h.state = domain.WorkerIdle
		h.lastUsed = time.Now()
	}
	h.cond.Broadcast()
	p.mu.Unlock()
}

// refuse synthesizes an EXCEPTION + END pair without touching any worker.
func (p *Pool) refuse(emit domain.EmitFunc, err error) {
	observability.RequestsRefusedTotal.WithLabelValues(refusalReason(err)).Inc()
	emit(domain.ExceptionFrom(err))
	emit(domain.EndFrame())
}

// emitChannelLoss handles a channel that dropped mid-request: Cancelled if
// the worker was deliberately terminated, WorkerDied otherwise. When the
// worker's RESULT or EXCEPTION was already relayed, only the lost END is
// synthesized; a request stream never carries two terminal-class frames.
func (p *Pool) emitChannelLoss(h *handle, emit domain.EmitFunc, terminalSeen bool) {
	p.mu.Lock()
	terminated := h.terminated
	closed := p.closed
	if p.workers[h.key] == h {
		p.dropLocked(h)
	}
	p.mu.Unlock()

	var err error
	switch {
	case closed:
		err = domain.ErrShutdown
	case terminated:
		err = domain.ErrCancelled
	default:
		err = domain.ErrWorkerDied
		observability.WorkerDeathsTotal.WithLabelValues("died").Inc()
		go func() { _ = h.proc.Stop(p.opts.StopGrace) }()
	}
	p.log.Warn("worker channel lost",
		slog.String("client", string(h.key.Client)),
		slog.String("environment", h.key.Env.String()),
		slog.Bool("terminated", terminated))
	if !terminalSeen {
		emit(domain.ExceptionFrom(err))
	}
	emit(domain.EndFrame())
}

// Delete terminates the worker for (client, env).
func (p *Pool) Delete(client domain.ClientID, env domain.Environment) bool {
	env, err := env.Normalize()
	if err != nil {
		return false
	}
	return p.terminate(domain.WorkerKey{Client: client, Env: env}, "deleted")
}

// RemoveClient terminates every worker owned by client.
func (p *Pool) RemoveClient(client domain.ClientID) int {
	p.mu.Lock()
	envs := make([]domain.Environment, 0, len(p.perClient[client]))
	for env := range p.perClient[client] {
		envs = append(envs, env)
	}
	p.mu.Unlock()

	n := 0
	for _, env := range envs {
		if p.terminate(domain.WorkerKey{Client: client, Env: env}, "client_removed") {
			n++
		}
	}
	return n
}

// terminate unlinks the key's handle and stops its subprocess. An in-flight
// request observes the closed channel and surfaces Cancelled.
func (p *Pool) terminate(key domain.WorkerKey, cause string) bool {
	p.mu.Lock()
	h, ok := p.workers[key]
	if !ok || h.state == domain.WorkerStarting {
		p.mu.Unlock()
		return false
	}
	h.terminated = true
	p.dropLocked(h)
	p.mu.Unlock()

	observability.WorkerDeathsTotal.WithLabelValues(cause).Inc()
	go func() { _ = h.proc.Stop(p.opts.StopGrace) }()
	p.log.Info("worker terminated",
		slog.String("client", string(key.Client)),
		slog.String("environment", key.Env.String()),
		slog.String("cause", cause))
	return true
}

// dropLocked removes h from both indexes and wakes its queue. Callers hold
// the pool lock.
func (p *Pool) dropLocked(h *handle) {
	delete(p.workers, h.key)
	if envs := p.perClient[h.key.Client]; envs != nil {
		delete(envs, h.key.Env)
		if len(envs) == 0 {
			delete(p.perClient, h.key.Client)
		}
	}
	h.state = domain.WorkerTerminating
	h.cond.Broadcast()
	observability.PoolWorkers.Set(float64(len(p.workers)))
}

// Environments lists the environments client holds workers for.
func (p *Pool) Environments(client domain.ClientID) []domain.Environment {
	p.mu.Lock()
	defer p.mu.Unlock()
	envs := make([]domain.Environment, 0, len(p.perClient[client]))
	for env := range p.perClient[client] {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i] < envs[j] })
	return envs
}

// Close terminates every worker within the grace period and stops the
// idle sweep. The pool refuses new work afterwards.
func (p *Pool) Close(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := make([]*handle, 0, len(p.workers))
	for _, h := range p.workers {
		h.terminated = true
		handles = append(handles, h)
	}
	p.mu.Unlock()

	close(p.sweepStop)
	<-p.sweepDone

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			if h.proc != nil {
				_ = h.proc.Stop(grace)
			}
		}(h)
	}
	wg.Wait()

	p.mu.Lock()
	for _, h := range handles {
		if p.workers[h.key] == h {
			p.dropLocked(h)
		}
	}
	p.mu.Unlock()
}

// sweep reclaims idle workers whose client went silent for longer than the
// idle timeout. BUSY workers are never swept.
func (p *Pool) sweep() {
	defer close(p.sweepDone)
	if p.opts.IdleTimeout <= 0 {
		<-p.sweepStop
		return
	}
	interval := p.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.opts.IdleTimeout)
			p.mu.Lock()
			var stale []domain.WorkerKey
			for key, h := range p.workers {
				if h.state == domain.WorkerIdle && h.lastUsed.Before(cutoff) {
					stale = append(stale, key)
				}
			}
			p.mu.Unlock()
			for _, key := range stale {
				p.terminate(key, "idle")
			}
		}
	}
}

// size reports the live worker count.
func (p *Pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func refusalReason(err error) string {
	switch domain.ExceptionFrom(err).ExcType {
	case domain.ExcPerClientQuota:
		return "per_client_quota"
	case domain.ExcGlobalQuota:
		return "global_quota"
	case domain.ExcUnknownEnv:
		return "unknown_environment"
	case domain.ExcWorkerStartup:
		return "worker_startup"
	case domain.ExcShutdown:
		return "shutdown"
	default:
		return "other"
	}
}
