package interp

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/cillow-dev/cillow/internal/domain"
)

// Installer materializes package source under an environment's src tree.
// The fast path clones the repository directly when git is on PATH; the
// fallback is the toolchain's own fetcher in GOPATH mode. Installer output
// is chunked into installer STREAM frames as it is produced.
type Installer struct {
	gopath  string
	gitPath string
}

// NewInstaller builds an installer rooted at gopath. The fast-path probe
// happens once, at construction.
func NewInstaller(gopath string) *Installer {
	git, _ := exec.LookPath("git")
	return &Installer{gopath: gopath, gitPath: git}
}

// Install fetches every named import root into the environment. The first
// failing name aborts with the installer's exit status; output already
// produced has been streamed to emit.
func (ins *Installer) Install(ctx context.Context, names []string, emit domain.EmitFunc) error {
	for _, name := range names {
		if err := ins.installOne(ctx, name, emit); err != nil {
			return err
		}
	}
	return nil
}

func (ins *Installer) installOne(ctx context.Context, name string, emit domain.EmitFunc) error {
	var cmd *exec.Cmd
	if ins.gitPath != "" {
		dest := filepath.Join(ins.gopath, "src", filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("op=interp.installOne name=%s: %w", name, err)
		}
		cmd = exec.CommandContext(ctx, ins.gitPath, "clone", "--depth=1", repoURL(name), dest)
	} else {
		cmd = exec.CommandContext(ctx, "go", "get", "-d", name)
	}
	cmd.Env = append(os.Environ(), "GOPATH="+ins.gopath, "GO111MODULE=off")

	emit(domain.NewStream(domain.StreamInstaller, fmt.Sprintf("installing %s\n", name)))
	code, err := streamCommand(cmd, func(_ bool, line string) {
		emit(domain.NewStream(domain.StreamInstaller, line))
	})
	if err != nil {
		return fmt.Errorf("op=interp.installOne name=%s: %w", name, err)
	}
	if code != 0 {
		return fmt.Errorf("op=interp.installOne name=%s: installer exited with status %d", name, code)
	}
	return nil
}

// streamCommand runs cmd, invoking onLine for every output line (isErr
// marks stderr) as it is produced, and returns the exit code. A non-nil
// error means the command could not be started or waited on at all.
func streamCommand(cmd *exec.Cmd, onLine func(isErr bool, line string)) (int, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var wg sync.WaitGroup
	scan := func(isErr bool, r *bufio.Scanner) {
		defer wg.Done()
		for r.Scan() {
			onLine(isErr, r.Text()+"\n")
		}
	}
	wg.Add(2)
	go scan(false, bufio.NewScanner(stdout))
	go scan(true, bufio.NewScanner(stderr))
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			return exit.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
