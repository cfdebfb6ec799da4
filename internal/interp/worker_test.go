package interp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cillow-dev/cillow/internal/adapter/wire"
	"github.com/cillow-dev/cillow/internal/domain"
)

func TestWorkerServesUntilEOF(t *testing.T) {
	ev := newTestEvaluator(t)

	var in bytes.Buffer
	reqs := wire.NewStreamWriter(&in)
	require.NoError(t, reqs.WriteRequest(domain.Request{Kind: domain.RunCode, Source: "1 + 1"}))
	require.NoError(t, reqs.WriteRequest(domain.Request{Kind: domain.SetEnvVars, EnvVars: map[string]string{}}))
	// A broker-side kind must never execute inside a worker.
	require.NoError(t, reqs.WriteRequest(domain.Request{Kind: domain.SwitchInterpreter}))

	var out bytes.Buffer
	w := NewWorker(ev, &in, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, w.Run(context.Background()))

	r := wire.NewStreamReader(&out)
	read := func() domain.Frame {
		f, err := r.ReadFrame()
		require.NoError(t, err)
		return f
	}

	assert.Equal(t, domain.FrameReady, read().Kind)

	f := read()
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)
	assert.EqualValues(t, 2, f.Value)
	assert.Equal(t, domain.FrameEnd, read().Kind)

	assert.Equal(t, domain.FrameResult, read().Kind)
	assert.Equal(t, domain.FrameEnd, read().Kind)

	f = read()
	assert.Equal(t, domain.FrameException, f.Kind)
	assert.Equal(t, domain.ExcMalformed, f.ExcType)
	assert.Equal(t, domain.FrameEnd, read().Kind)

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}
