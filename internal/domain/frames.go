package domain

import "errors"

// RequestKind enumerates the client-to-server request kinds.
type RequestKind string

const (
	RunCode             RequestKind = "run_code"
	RunCommand          RequestKind = "run_command"
	InstallRequirements RequestKind = "install_requirements"
	SetEnvVars          RequestKind = "set_env_vars"
	SwitchInterpreter   RequestKind = "switch_interpreter"
	DeleteInterpreter   RequestKind = "delete_interpreter"
	ShutdownClient      RequestKind = "shutdown_client"
	ListEnvironments    RequestKind = "list_environments"
)

// Valid reports whether k is one of the wire request kinds.
func (k RequestKind) Valid() bool {
	switch k {
	case RunCode, RunCommand, InstallRequirements, SetEnvVars,
		SwitchInterpreter, DeleteInterpreter, ShutdownClient, ListEnvironments:
		return true
	}
	return false
}

// Request is one client request. Kind selects which payload fields apply.
type Request struct {
	Kind    RequestKind       `cbor:"kind"`
	Env     Environment       `cbor:"env,omitempty"`
	Source  string            `cbor:"source,omitempty"`
	Argv    []string          `cbor:"argv,omitempty"`
	Names   []string          `cbor:"names,omitempty"`
	EnvVars map[string]string `cbor:"env_vars,omitempty"`
}

// FrameKind tags a response frame.
type FrameKind string

const (
	// FrameReady is emitted once by a worker after environment activation
	// and hook installation; it never reaches clients.
	FrameReady FrameKind = "ready"
	// FrameStream carries a textual output chunk (stdout, stderr, installer).
	FrameStream FrameKind = "stream"
	// FrameByteStream carries a binary artifact such as a rendered image.
	FrameByteStream FrameKind = "byte_stream"
	// FrameResult carries the final value of the last evaluated expression.
	FrameResult FrameKind = "result"
	// FrameException is the terminal failure payload.
	FrameException FrameKind = "exception"
	// FrameEnd completes a request stream; exactly one per request.
	FrameEnd FrameKind = "end"
)

// Stream kinds used in FrameStream.
const (
	StreamStdout    = "stdout"
	StreamStderr    = "stderr"
	StreamInstaller = "installer"
)

// EXCEPTION type strings (spec'd wire values).
const (
	ExcUserCode       = "UserCodeError"
	ExcInstaller      = "InstallerError"
	ExcCommand        = "CommandError"
	ExcPerClientQuota = "PerClientQuotaExceeded"
	ExcGlobalQuota    = "GlobalQuotaExceeded"
	ExcServerBusy     = "ServerBusy"
	ExcUnknownEnv     = "UnknownEnvironment"
	ExcWorkerStartup  = "WorkerStartupFailed"
	ExcWorkerDied     = "WorkerDied"
	ExcCancelled      = "Cancelled"
	ExcShutdown       = "Shutdown"
	ExcMalformed      = "MalformedRequest"
)

// Frame is the tagged union streamed from worker to client. One CBOR
// envelope serves every kind; Bytes stays a raw byte string on the wire so
// binary artifacts are never re-encoded through text.
type Frame struct {
	Kind FrameKind `cbor:"kind"`

	// FrameStream / FrameByteStream
	Stream string `cbor:"stream,omitempty"`
	Text   string `cbor:"text,omitempty"`
	Bytes  []byte `cbor:"bytes,omitempty"`
	ID     string `cbor:"id,omitempty"`

	// FrameResult. Nil means the request produced no value.
	Value any `cbor:"value,omitempty"`

	// FrameException
	ExcType   string `cbor:"exc_type,omitempty"`
	Message   string `cbor:"message,omitempty"`
	Traceback string `cbor:"traceback,omitempty"`
}

// Terminal reports whether the frame completes a request stream.
func (f Frame) Terminal() bool { return f.Kind == FrameEnd }

// NewStream builds a textual output chunk frame.
func NewStream(stream, text string) Frame {
	return Frame{Kind: FrameStream, Stream: stream, Text: text}
}

// NewByteStream builds a binary artifact frame.
func NewByteStream(stream, id string, data []byte) Frame {
	return Frame{Kind: FrameByteStream, Stream: stream, ID: id, Bytes: data}
}

// NewResult builds the final-value frame. value may be nil.
func NewResult(value any) Frame {
	return Frame{Kind: FrameResult, Value: value}
}

// NewException builds a terminal failure frame.
func NewException(excType, message, traceback string) Frame {
	return Frame{Kind: FrameException, ExcType: excType, Message: message, Traceback: traceback}
}

// EndFrame terminates a request stream.
func EndFrame() Frame { return Frame{Kind: FrameEnd} }

// ReadyFrame is the worker's startup acknowledgment.
func ReadyFrame() Frame { return Frame{Kind: FrameReady} }

// ExceptionFrom translates a sentinel (or arbitrary) error into the
// EXCEPTION frame a client sees.
func ExceptionFrom(err error) Frame {
	excType := ExcUserCode
	switch {
	case errors.Is(err, ErrPerClientQuota):
		excType = ExcPerClientQuota
	case errors.Is(err, ErrGlobalQuota):
		excType = ExcGlobalQuota
	case errors.Is(err, ErrServerBusy):
		excType = ExcServerBusy
	case errors.Is(err, ErrUnknownEnvironment):
		excType = ExcUnknownEnv
	case errors.Is(err, ErrWorkerStartup):
		excType = ExcWorkerStartup
	case errors.Is(err, ErrWorkerDied):
		excType = ExcWorkerDied
	case errors.Is(err, ErrCancelled):
		excType = ExcCancelled
	case errors.Is(err, ErrShutdown):
		excType = ExcShutdown
	case errors.Is(err, ErrMalformedRequest):
		excType = ExcMalformed
	}
	return NewException(excType, err.Error(), "")
}
