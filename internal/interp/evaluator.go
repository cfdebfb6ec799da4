package interp

import (
	"context"
	"fmt"
	"go/build"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/cillow-dev/cillow/internal/domain"
)

// Evaluator is the single-threaded code evaluator backing one worker
// process. Its interpreter instance carries the persistent namespace:
// names defined by one RUN_CODE are visible to the next.
type Evaluator struct {
	env    domain.Environment
	gopath string

	engine    *interp.Interpreter
	installer *Installer

	// Switchable bindings targeted by capture hooks.
	stdout *Switchable[io.Writer]
	stderr *Switchable[io.Writer]
	show   *Switchable[func(image.Image) error]
}

// NewEvaluator activates env and builds the evaluator. For a non-system
// environment the directory must contain a src tree; its bin directory is
// prepended to PATH so RUN_COMMAND resolves the environment's tools first.
func NewEvaluator(env domain.Environment) (*Evaluator, error) {
	env, err := env.Normalize()
	if err != nil {
		return nil, err
	}

	// The engine falls back to the default GOPATH when the variable is
	// unset; the inspector and installer must search that same tree.
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		gopath = build.Default.GOPATH
	}
	if !env.IsSystem() {
		info, statErr := os.Stat(filepath.Join(env.String(), "src"))
		if statErr != nil || !info.IsDir() {
			return nil, fmt.Errorf("op=interp.NewEvaluator env=%q has no src tree: %w", env.String(), domain.ErrUnknownEnvironment)
		}
		gopath = env.String()
		_ = os.Setenv("PATH", filepath.Join(env.String(), "bin")+string(os.PathListSeparator)+os.Getenv("PATH"))
	}

	ev := &Evaluator{
		env:    env,
		gopath: gopath,
		// Unhooked output goes to the process stderr: a worker's stdout
		// carries the frame channel and must stay clean.
		stdout:    NewSwitchable[io.Writer](os.Stderr),
		stderr:    NewSwitchable[io.Writer](os.Stderr),
		show:      NewSwitchable(defaultShow),
		installer: NewInstaller(gopath),
	}

	ev.engine = interp.New(interp.Options{
		GoPath: gopath,
		Stdout: switchedWriter{s: ev.stdout},
		Stderr: switchedWriter{s: ev.stderr},
	})
	if err := ev.engine.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("op=interp.NewEvaluator stdlib: %w", err)
	}
	if err := ev.engine.Use(ev.displaySymbols()); err != nil {
		return nil, fmt.Errorf("op=interp.NewEvaluator display: %w", err)
	}
	return ev, nil
}

// Environment returns the environment this evaluator is bound to.
func (ev *Evaluator) Environment() domain.Environment { return ev.env }

// displaySymbols exposes the display package to interpreted code. Show
// resolves the switchable at call time, so the image hook's replacement is
// seen mid-request and the original stays reachable afterwards.
func (ev *Evaluator) displaySymbols() interp.Exports {
	showFn := func(img image.Image) error { return ev.show.Current()(img) }
	return interp.Exports{
		"display/display": {
			"Show": reflect.ValueOf(showFn),
		},
	}
}

// RunCode executes source and returns the terminal frame (RESULT or
// EXCEPTION). Output produced along the way reaches emit through the
// installed capture hooks.
func (ev *Evaluator) RunCode(ctx context.Context, source string, emit domain.EmitFunc) domain.Frame {
	sn, err := AnalyzeSnippet(source)
	if err != nil {
		return domain.NewException(domain.ExcUserCode, err.Error(), "")
	}

	if !autoInstallDisabled() {
		if missing := MissingImports(source, ev.gopath); len(missing) > 0 {
			// Install failures stream verbatim and execution proceeds;
			// an import that still cannot resolve fails as user code.
			if err := ev.installer.Install(ctx, missing, emit); err != nil {
				emit(domain.NewStream(domain.StreamInstaller, err.Error()+"\n"))
			}
		}
	}

	var value any
	err = WithHooks(registeredHooks(), emit, func() error {
		if sn.Exec != "" {
			if _, execErr := ev.eval(sn.Exec); execErr != nil {
				return execErr
			}
		}
		if sn.Eval != "" {
			v, evalErr := ev.eval(sn.Eval)
			if evalErr != nil {
				return evalErr
			}
			if v.IsValid() && v.CanInterface() {
				value = v.Interface()
			}
		}
		return nil
	})
	if err != nil {
		return userCodeException(err)
	}
	return domain.NewResult(resultValue(value))
}

// eval runs one source fragment inside the persistent namespace,
// converting interpreter panics into errors.
func (ev *Evaluator) eval(src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ev.engine.Eval(src)
}

// RunCommand spawns argv, streams its output, and returns the terminal
// frame: RESULT with the exit code, or a CommandError EXCEPTION when the
// process could not be spawned at all.
func (ev *Evaluator) RunCommand(ctx context.Context, argv []string, emit domain.EmitFunc) domain.Frame {
	if len(argv) == 0 {
		return domain.NewException(domain.ExcCommand, "empty command", "")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	code, err := streamCommand(cmd, func(isErr bool, line string) {
		stream := domain.StreamStdout
		if isErr {
			stream = domain.StreamStderr
		}
		emit(domain.NewStream(stream, line))
	})
	if err != nil {
		return domain.NewException(domain.ExcCommand, err.Error(), "")
	}
	return domain.NewResult(code)
}

// Install fetches the named packages into the evaluator's environment.
func (ev *Evaluator) Install(ctx context.Context, names []string, emit domain.EmitFunc) domain.Frame {
	if err := ev.installer.Install(ctx, names, emit); err != nil {
		return domain.NewException(domain.ExcInstaller, err.Error(), "")
	}
	return domain.NewResult(nil)
}

// SetEnvVars mutates the worker's environment table in place.
func (ev *Evaluator) SetEnvVars(vars map[string]string) domain.Frame {
	for k, v := range vars {
		if err := os.Setenv(k, v); err != nil {
			return domain.NewException(domain.ExcUserCode, err.Error(), "")
		}
	}
	return domain.NewResult(nil)
}

// userCodeException shapes an interpreter error into the EXCEPTION frame.
// yaegi errors carry the source position; interpreted panics carry a stack.
func userCodeException(err error) domain.Frame {
	var traceback string
	var p interp.Panic
	if ok := asPanic(err, &p); ok {
		traceback = string(p.Stack)
	}
	return domain.NewException(domain.ExcUserCode, err.Error(), traceback)
}

func asPanic(err error, out *interp.Panic) bool {
	p, ok := err.(interp.Panic)
	if ok {
		*out = p
	}
	return ok
}

// resultValue keeps RESULT values serializable: anything the codec cannot
// represent falls back to its printed form.
func resultValue(v any) any {
	if v == nil {
		return nil
	}
	if _, err := cbor.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

// autoInstallDisabled honors CILLOW_DISABLE_AUTO_INSTALL.
func autoInstallDisabled() bool {
	switch strings.ToLower(os.Getenv("CILLOW_DISABLE_AUTO_INSTALL")) {
	case "1", "true", "yes":
		return true
	}
	return false
}
