package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cillow-dev/cillow/internal/domain"
)

func TestStreamFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	frames := []domain.Frame{
		domain.ReadyFrame(),
		domain.NewStream(domain.StreamStdout, "line 1\n"),
		domain.NewResult(42),
		domain.EndFrame(),
	}
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}

	r := NewStreamReader(&buf)
	for _, want := range frames {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Text, got.Text)
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	req := domain.Request{Kind: domain.RunCommand, Argv: []string{"ls", "-l"}}
	require.NoError(t, w.WriteRequest(req))

	got, err := NewStreamReader(&buf).ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestStreamReaderTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 100)
	buf.Write(prefix[:])
	buf.WriteString("short")

	_, err := NewStreamReader(&buf).ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxFrameSize+1)
	buf.Write(prefix[:])

	_, err := NewStreamReader(&buf).ReadFrame()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
