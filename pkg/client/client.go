// Package client is a convenience wrapper around the broker's socket
// protocol: it owns a DEALER connection, sends requests, and collects the
// streamed response frames of each request up to its END marker.
package client

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"github.com/cillow-dev/cillow/internal/adapter/wire"
	"github.com/cillow-dev/cillow/internal/domain"
)

// Execution aggregates every frame one request produced.
type Execution struct {
	Streams     []domain.Frame
	ByteStreams []domain.Frame
	Result      any
	Exception   *domain.Frame
}

// Failed reports whether the request terminated with an exception.
func (e Execution) Failed() bool { return e.Exception != nil }

// Client is one logical connection to a broker.
type Client struct {
	sock zmq4.Socket
	env  domain.Environment
}

// Dial connects to the broker at addr. env is the environment used by the
// convenience methods until SwitchInterpreter.
func Dial(ctx context.Context, addr string, env domain.Environment) (*Client, error) {
	sock := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(uuid.NewString())))
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("op=client.Dial %s: %w", addr, err)
	}
	if env == "" {
		env = domain.SystemEnvironment
	}
	return &Client{sock: sock, env: env}, nil
}

// Do sends req and collects frames until END. Stream and byte-stream
// frames are passed to onStream as they arrive when it is non-nil.
func (c *Client) Do(req domain.Request, onStream domain.EmitFunc) (Execution, error) {
	payload, err := wire.MarshalRequest(req)
	if err != nil {
		return Execution{}, err
	}
	if err := c.sock.Send(zmq4.NewMsgFrom(payload)); err != nil {
		return Execution{}, fmt.Errorf("op=client.Do send: %w", err)
	}

	var exec Execution
	for {
		msg, err := c.sock.Recv()
		if err != nil {
			return exec, fmt.Errorf("op=client.Do recv: %w", err)
		}
		frame, err := wire.UnmarshalFrame(msg.Frames[len(msg.Frames)-1])
		if err != nil {
			return exec, err
		}
		switch frame.Kind {
		case domain.FrameEnd:
			return exec, nil
		case domain.FrameResult:
			exec.Result = frame.Value
		case domain.FrameException:
			f := frame
			exec.Exception = &f
		case domain.FrameStream:
			exec.Streams = append(exec.Streams, frame)
			if onStream != nil {
				onStream(frame)
			}
		case domain.FrameByteStream:
			exec.ByteStreams = append(exec.ByteStreams, frame)
			if onStream != nil {
				onStream(frame)
			}
		}
	}
}

// RunCode executes source in the client's current environment.
func (c *Client) RunCode(source string, onStream domain.EmitFunc) (Execution, error) {
	return c.Do(domain.Request{Kind: domain.RunCode, Env: c.env, Source: source}, onStream)
}

// RunCommand runs argv in the worker bound to the current environment.
func (c *Client) RunCommand(argv []string, onStream domain.EmitFunc) (Execution, error) {
	return c.Do(domain.Request{Kind: domain.RunCommand, Env: c.env, Argv: argv}, onStream)
}

// InstallRequirements installs the named packages into the current
// environment.
func (c *Client) InstallRequirements(names []string, onStream domain.EmitFunc) (Execution, error) {
	return c.Do(domain.Request{Kind: domain.InstallRequirements, Env: c.env, Names: names}, onStream)
}

// SetEnvVars mutates the current worker's environment variables.
func (c *Client) SetEnvVars(vars map[string]string) (Execution, error) {
	return c.Do(domain.Request{Kind: domain.SetEnvVars, Env: c.env, EnvVars: vars}, nil)
}

// SwitchInterpreter points subsequent convenience calls at env, ensuring a
// worker exists for it.
func (c *Client) SwitchInterpreter(env domain.Environment) (Execution, error) {
	exec, err := c.Do(domain.Request{Kind: domain.SwitchInterpreter, Env: env}, nil)
	if err == nil && !exec.Failed() {
		c.env = env
	}
	return exec, err
}

// DeleteInterpreter terminates the worker bound to env.
func (c *Client) DeleteInterpreter(env domain.Environment) (Execution, error) {
	return c.Do(domain.Request{Kind: domain.DeleteInterpreter, Env: env}, nil)
}

// Environments lists the environments this client holds workers for.
func (c *Client) Environments() (Execution, error) {
	return c.Do(domain.Request{Kind: domain.ListEnvironments}, nil)
}

// Close tells the broker to reap this client's workers, then closes the
// socket.
func (c *Client) Close() error {
	_, _ = c.Do(domain.Request{Kind: domain.ShutdownClient}, nil)
	return c.sock.Close()
}
