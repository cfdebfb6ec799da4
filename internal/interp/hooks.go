package interp

import (
	"fmt"
	"sync"

	"github.com/cillow-dev/cillow/internal/domain"
)

// Hook is a reversible binding activated around code execution inside a
// worker. Install receives the frame emitter for the current request;
// Uninstall restores the prior binding and must be safe to call after a
// failed Install of a later hook.
type Hook interface {
	Install(emit domain.EmitFunc) error
	Uninstall()
}

// The process-wide hook registry. Hooks registered before a worker spawns
// are inherited by it; mutations during a worker's lifetime are not
// reflected there. Inside a worker the registry is only read between
// requests, never mid-request.
var registry = struct {
	mu    sync.Mutex
	hooks []Hook
}{}

// RegisterHooks appends hooks to the registry in activation order.
func RegisterHooks(hooks ...Hook) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.hooks = append(registry.hooks, hooks...)
}

// ClearHooks empties the registry.
func ClearHooks() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.hooks = nil
}

// registeredHooks snapshots the registry.
func registeredHooks() []Hook {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]Hook, len(registry.hooks))
	copy(out, registry.hooks)
	return out
}

// WithHooks installs hooks in order, runs fn, and uninstalls in reverse
// order on every exit path, including panics and a failed install of a
// later hook.
func WithHooks(hooks []Hook, emit domain.EmitFunc, fn func() error) error {
	installed := make([]Hook, 0, len(hooks))
	defer func() {
		for i := len(installed) - 1; i >= 0; i-- {
			installed[i].Uninstall()
		}
	}()
	for _, h := range hooks {
		if err := h.Install(emit); err != nil {
			return fmt.Errorf("op=interp.WithHooks install: %w", err)
		}
		installed = append(installed, h)
	}
	return fn()
}
