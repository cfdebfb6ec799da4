package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cillow-dev/cillow/internal/domain"
)

// maxFrameSize bounds a single pipe frame. Large enough for rendered
// figures, small enough that a corrupted length prefix cannot exhaust
// memory.
const maxFrameSize = 64 << 20

// StreamWriter writes length-prefixed CBOR frames to the worker pipe.
// Safe for one writer goroutine at a time; the mutex covers the prefix and
// body being written as one unit.
type StreamWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamWriter wraps w.
func NewStreamWriter(w io.Writer) *StreamWriter { return &StreamWriter{w: w} }

// WriteFrame writes one response frame.
func (s *StreamWriter) WriteFrame(f domain.Frame) error {
	b, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	return s.write(b)
}

// WriteRequest writes one request frame.
func (s *StreamWriter) WriteRequest(r domain.Request) error {
	b, err := MarshalRequest(r)
	if err != nil {
		return err
	}
	return s.write(b)
}

func (s *StreamWriter) write(body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("op=wire.write prefix: %w", err)
	}
	if _, err := s.w.Write(body); err != nil {
		return fmt.Errorf("op=wire.write body: %w", err)
	}
	return nil
}

// StreamReader reads length-prefixed CBOR frames from the worker pipe.
// Exactly one reader goroutine may use it at a time.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader wraps r.
func NewStreamReader(r io.Reader) *StreamReader { return &StreamReader{r: r} }

// ReadFrame reads the next response frame. It returns io.EOF once the pipe
// is closed.
func (s *StreamReader) ReadFrame() (domain.Frame, error) {
	body, err := s.read()
	if err != nil {
		return domain.Frame{}, err
	}
	return UnmarshalFrame(body)
}

// ReadRequest reads the next request frame.
func (s *StreamReader) ReadRequest() (domain.Request, error) {
	body, err := s.read()
	if err != nil {
		return domain.Request{}, err
	}
	return UnmarshalRequest(body)
}

func (s *StreamReader) read() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(s.r, prefix[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("op=wire.read prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("op=wire.read frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("op=wire.read body: %w", err)
	}
	return body, nil
}
