package interp

import (
	"context"
	"go/build"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cillow-dev/cillow/internal/domain"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ClearHooks()
	t.Cleanup(ClearHooks)
	ev, err := NewEvaluator(domain.SystemEnvironment)
	require.NoError(t, err)
	return ev
}

func collectFrames(frames *[]domain.Frame) domain.EmitFunc {
	return func(f domain.Frame) { *frames = append(*frames, f) }
}

func TestNewEvaluatorDefaultsSystemGopath(t *testing.T) {
	t.Setenv("GOPATH", "")
	ev, err := NewEvaluator(domain.SystemEnvironment)
	require.NoError(t, err)
	// With the variable unset the evaluator must search where the engine
	// resolves imports, not an empty path.
	assert.Equal(t, build.Default.GOPATH, ev.gopath)
	assert.NotEmpty(t, ev.gopath)
}

func TestNewEvaluatorGopathFeedsInspector(t *testing.T) {
	gopath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(gopath, "src", "example.com", "foo"), 0o755))
	t.Setenv("GOPATH", gopath)

	ev, err := NewEvaluator(domain.SystemEnvironment)
	require.NoError(t, err)
	assert.Equal(t, gopath, ev.gopath)

	src := `import "example.com/foo"
_ = 0`
	assert.Empty(t, MissingImports(src, ev.gopath), "installed package must not be reported missing")
}

func TestNewEvaluatorRejectsMissingSrcTree(t *testing.T) {
	_, err := NewEvaluator(domain.Environment(t.TempDir()))
	assert.ErrorIs(t, err, domain.ErrUnknownEnvironment)
}

func TestNewEvaluatorAcceptsEnvironmentDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	ev, err := NewEvaluator(domain.Environment(dir))
	require.NoError(t, err)
	assert.Equal(t, domain.Environment(dir), ev.Environment())
}

func TestRunCodeExpressionValue(t *testing.T) {
	ev := newTestEvaluator(t)
	var frames []domain.Frame

	f := ev.RunCode(context.Background(), "1 + 2", collectFrames(&frames))
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)
	assert.EqualValues(t, 3, f.Value)
	assert.Empty(t, frames)
}

func TestRunCodeNamespacePersists(t *testing.T) {
	ev := newTestEvaluator(t)
	emit := func(domain.Frame) {}

	f := ev.RunCode(context.Background(), "x := 40", emit)
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)
	assert.Nil(t, f.Value)

	f = ev.RunCode(context.Background(), "x + 2", emit)
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)
	assert.EqualValues(t, 42, f.Value)
}

func TestRunCodeEmptySource(t *testing.T) {
	ev := newTestEvaluator(t)
	var frames []domain.Frame

	f := ev.RunCode(context.Background(), "", collectFrames(&frames))
	assert.Equal(t, domain.FrameResult, f.Kind)
	assert.Nil(t, f.Value)
	assert.Empty(t, frames)
}

func TestRunCodeSyntaxError(t *testing.T) {
	ev := newTestEvaluator(t)
	f := ev.RunCode(context.Background(), "func (", func(domain.Frame) {})
	assert.Equal(t, domain.FrameException, f.Kind)
	assert.Equal(t, domain.ExcUserCode, f.ExcType)
	assert.NotEmpty(t, f.Message)
}

func TestRunCodeUndefinedSymbol(t *testing.T) {
	ev := newTestEvaluator(t)
	f := ev.RunCode(context.Background(), "notDefinedAnywhere", func(domain.Frame) {})
	assert.Equal(t, domain.FrameException, f.Kind)
	assert.Equal(t, domain.ExcUserCode, f.ExcType)
}

func TestRunCodeCapturesStdout(t *testing.T) {
	ev := newTestEvaluator(t)
	RegisterHooks(NewStdStreamsHook(ev))

	src := `import "fmt"
fmt.Print("captured output")
_ = 0`
	var frames []domain.Frame
	f := ev.RunCode(context.Background(), src, collectFrames(&frames))
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)

	var stdout string
	for _, fr := range frames {
		if fr.Kind == domain.FrameStream && fr.Stream == domain.StreamStdout {
			stdout += fr.Text
		}
	}
	assert.Contains(t, stdout, "captured output")
}

func TestRunCodeStdoutRestoredAfterRequest(t *testing.T) {
	ev := newTestEvaluator(t)
	RegisterHooks(NewStdStreamsHook(ev))

	_ = ev.RunCode(context.Background(), "1 + 1", func(domain.Frame) {})
	assert.Equal(t, ev.stdout.Original(), ev.stdout.Current())
	assert.Equal(t, ev.stderr.Original(), ev.stderr.Current())
}

func TestRunCodeCapturesDisplayedImage(t *testing.T) {
	ev := newTestEvaluator(t)
	RegisterHooks(NewImageShowHook(ev))

	src := `import (
	"display"
	"image"
)
display.Show(image.NewRGBA(image.Rect(0, 0, 2, 2)))`
	var frames []domain.Frame
	f := ev.RunCode(context.Background(), src, collectFrames(&frames))
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)

	require.Len(t, frames, 1)
	assert.Equal(t, domain.FrameByteStream, frames[0].Kind)
	assert.Equal(t, "image", frames[0].Stream)
	assert.NotEmpty(t, frames[0].ID)
	assert.NotEmpty(t, frames[0].Bytes)
}

func TestImageShowHookDirect(t *testing.T) {
	ev := newTestEvaluator(t)
	hook := NewImageShowHook(ev)

	var frames []domain.Frame
	require.NoError(t, hook.Install(collectFrames(&frames)))
	defer hook.Uninstall()

	require.NoError(t, ev.show.Current()(image.NewRGBA(image.Rect(0, 0, 1, 1))))
	require.Len(t, frames, 1)
	assert.Equal(t, domain.FrameByteStream, frames[0].Kind)
	// PNG magic bytes.
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, frames[0].Bytes[:4])
}

func TestRunCommand(t *testing.T) {
	ev := newTestEvaluator(t)
	var frames []domain.Frame

	f := ev.RunCommand(context.Background(), []string{"sh", "-c", "echo out; echo err 1>&2"}, collectFrames(&frames))
	require.Equal(t, domain.FrameResult, f.Kind, "message=%s", f.Message)
	assert.EqualValues(t, 0, f.Value)

	var stdout, stderr string
	for _, fr := range frames {
		switch fr.Stream {
		case domain.StreamStdout:
			stdout += fr.Text
		case domain.StreamStderr:
			stderr += fr.Text
		}
	}
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)
}

func TestRunCommandNonZeroExit(t *testing.T) {
	ev := newTestEvaluator(t)
	f := ev.RunCommand(context.Background(), []string{"sh", "-c", "exit 3"}, func(domain.Frame) {})
	require.Equal(t, domain.FrameResult, f.Kind)
	assert.EqualValues(t, 3, f.Value)
}

func TestRunCommandSpawnFailure(t *testing.T) {
	ev := newTestEvaluator(t)
	f := ev.RunCommand(context.Background(), []string{"/does/not/exist-anywhere"}, func(domain.Frame) {})
	assert.Equal(t, domain.FrameException, f.Kind)
	assert.Equal(t, domain.ExcCommand, f.ExcType)
}

func TestRunCommandEmptyArgv(t *testing.T) {
	ev := newTestEvaluator(t)
	f := ev.RunCommand(context.Background(), nil, func(domain.Frame) {})
	assert.Equal(t, domain.FrameException, f.Kind)
	assert.Equal(t, domain.ExcCommand, f.ExcType)
}

func TestSetEnvVars(t *testing.T) {
	ev := newTestEvaluator(t)
	t.Setenv("CILLOW_TEST_SETENV", "before")

	f := ev.SetEnvVars(map[string]string{"CILLOW_TEST_SETENV": "after"})
	require.Equal(t, domain.FrameResult, f.Kind)
	assert.Equal(t, "after", os.Getenv("CILLOW_TEST_SETENV"))
}

func TestAutoInstallDisabled(t *testing.T) {
	t.Setenv("CILLOW_DISABLE_AUTO_INSTALL", "true")
	assert.True(t, autoInstallDisabled())
	t.Setenv("CILLOW_DISABLE_AUTO_INSTALL", "0")
	assert.False(t, autoInstallDisabled())
}
