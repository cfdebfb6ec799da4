// Package domain holds the broker's entities, the frame taxonomy exchanged
// with interpreter workers, the error taxonomy surfaced to clients, and the
// ports implemented by adapters.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). User-visible errors are translated into
// EXCEPTION frames by ExceptionFrom; the broker never closes a connection
// over one of these.
var (
	ErrPerClientQuota     = errors.New("per-client interpreter quota exceeded")
	ErrGlobalQuota        = errors.New("global interpreter quota exceeded")
	ErrServerBusy         = errors.New("request queue is full")
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrWorkerStartup      = errors.New("worker startup failed")
	ErrWorkerDied         = errors.New("worker died")
	ErrCancelled          = errors.New("request cancelled")
	ErrShutdown           = errors.New("server shutting down")
	ErrMalformedRequest   = errors.New("malformed request")
)

// ClientID is the opaque socket-layer identity assigned by the ROUTER
// transport for the duration of a connection.
type ClientID string

// WorkerKey identifies a pooled interpreter worker. A client may hold
// distinct workers for distinct environments, never two for the same one.
type WorkerKey struct {
	Client ClientID
	Env    Environment
}

// WorkerState tracks a handle through its lifecycle.
type WorkerState int

const (
	WorkerStarting WorkerState = iota
	WorkerIdle
	WorkerBusy
	WorkerTerminating
)

// WorkerProc is one live interpreter subprocess as seen by the pool: a
// bidirectional framed channel plus process control.
type WorkerProc interface {
	// Send writes one request frame to the worker.
	Send(req Request) error
	// Recv reads the next response frame. It returns io.EOF (possibly
	// wrapped) once the channel is closed or the subprocess exits.
	Recv() (Frame, error)
	// Close closes the channel without waiting for the subprocess. Any
	// blocked Recv observes EOF.
	Close() error
	// Stop closes the channel and reaps the subprocess, escalating from a
	// termination signal to a kill after the grace period.
	Stop(grace time.Duration) error
	// Pid reports the subprocess pid, for logs.
	Pid() int
}

// Spawner starts a worker subprocess bound to env and blocks until the
// worker reported READY or the context expired.
type Spawner func(ctx context.Context, env Environment) (WorkerProc, error)

// EmitFunc receives response frames in the exact order they were produced.
type EmitFunc func(Frame)

// WorkerPool is the pool & router port consumed by the request broker.
type WorkerPool interface {
	// Dispatch routes req to the worker for (client, req.Env), creating it
	// if admission allows, and streams every response frame to emit. The
	// stream always terminates with exactly one END frame.
	Dispatch(ctx context.Context, client ClientID, req Request, emit EmitFunc)
	// Ensure makes sure a worker exists for (client, env), applying the
	// same admission rules as Dispatch.
	Ensure(ctx context.Context, client ClientID, env Environment) error
	// Delete terminates the worker for (client, env). It reports whether a
	// worker existed.
	Delete(client ClientID, env Environment) bool
	// RemoveClient terminates every worker owned by client and returns how
	// many were reaped.
	RemoveClient(client ClientID) int
	// Environments lists the environments client currently holds workers for.
	Environments(client ClientID) []Environment
	// Close terminates all workers within the grace period.
	Close(grace time.Duration)
}
