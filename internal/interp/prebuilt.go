package interp

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cillow-dev/cillow/internal/domain"
)

// emitWriter forwards everything written to it as STREAM frames.
type emitWriter struct {
	stream string
	emit   domain.EmitFunc
}

func (w emitWriter) Write(p []byte) (int, error) {
	w.emit(domain.NewStream(w.stream, string(p)))
	return len(p), nil
}

// StdStreamsHook captures the evaluator's standard output and standard
// error into stdout/stderr STREAM frames for the duration of a request.
type StdStreamsHook struct {
	ev       *Evaluator
	restores []func()
}

// NewStdStreamsHook builds the hook for ev.
func NewStdStreamsHook(ev *Evaluator) *StdStreamsHook { return &StdStreamsHook{ev: ev} }

// Install rebinds both writers. The prior bindings stay reachable through
// the evaluator's switchables.
func (h *StdStreamsHook) Install(emit domain.EmitFunc) error {
	h.restores = []func(){
		h.ev.stdout.SwitchTo(emitWriter{stream: domain.StreamStdout, emit: emit}),
		h.ev.stderr.SwitchTo(emitWriter{stream: domain.StreamStderr, emit: emit}),
	}
	return nil
}

// Uninstall restores the prior writer bindings.
func (h *StdStreamsHook) Uninstall() {
	for i := len(h.restores) - 1; i >= 0; i-- {
		h.restores[i]()
	}
	h.restores = nil
}

// ImageShowHook captures images displayed by interpreted code (through the
// display.Show binding) as PNG BYTE_STREAM frames.
type ImageShowHook struct {
	ev      *Evaluator
	restore func()
}

// NewImageShowHook builds the hook for ev.
func NewImageShowHook(ev *Evaluator) *ImageShowHook { return &ImageShowHook{ev: ev} }

// Install rebinds display.Show to a PNG-encoding emitter. The replacement
// never calls back into display.Show; the prior binding remains reachable
// via the switchable.
func (h *ImageShowHook) Install(emit domain.EmitFunc) error {
	h.restore = h.ev.show.SwitchTo(func(img image.Image) error {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("op=interp.ImageShowHook encode: %w", err)
		}
		emit(domain.NewByteStream("image", uuid.NewString(), buf.Bytes()))
		return nil
	})
	return nil
}

// Uninstall restores the prior display.Show binding.
func (h *ImageShowHook) Uninstall() {
	if h.restore != nil {
		h.restore()
		h.restore = nil
	}
}

// defaultShow is the unhooked display.Show: write the image to a PNG file
// under the temp dir, the headless stand-in for opening a viewer.
func defaultShow(img image.Image) error {
	f, err := os.CreateTemp("", "cillow-*.png")
	if err != nil {
		return fmt.Errorf("op=interp.defaultShow: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("op=interp.defaultShow encode %s: %w", filepath.Base(f.Name()), err)
	}
	return nil
}

// switchedWriter resolves the active target at every write so hook switches
// take effect on a writer that was handed out earlier (e.g. to yaegi).
type switchedWriter struct {
	s *Switchable[io.Writer]
}

func (w switchedWriter) Write(p []byte) (int, error) { return w.s.Current().Write(p) }
