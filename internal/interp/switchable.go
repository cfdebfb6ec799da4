// Package interp implements the interpreter worker runtime: the yaegi-backed
// evaluator with its persistent namespace, dependency inspection,
// package installation, and the scoped capture-hook machinery wrapped
// around every code execution.
package interp

import "sync"

// Switchable holds a rebindable target of type T. A replacement installed
// with SwitchTo never shadows the original for the replacer itself: the
// first binding stays reachable through Original, so an instrumented
// version can delegate without recursing into itself.
//
// Switches nest. Each restore function pops exactly one level, so exiting
// an inner switch re-exposes the outer replacement, and only unwinding the
// outermost switch restores the original.
type Switchable[T any] struct {
	mu      sync.Mutex
	current T
	stack   []T
}

// NewSwitchable binds the original target.
func NewSwitchable[T any](target T) *Switchable[T] {
	return &Switchable[T]{current: target}
}

// Current returns the active target.
func (s *Switchable[T]) Current() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Original returns the target bound before any switch.
func (s *Switchable[T]) Original() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) > 0 {
		return s.stack[0]
	}
	return s.current
}

// SwitchTo installs target and returns the restore function for this level.
// Callers must invoke restore on every exit path, typically via defer.
func (s *Switchable[T]) SwitchTo(target T) (restore func()) {
	s.mu.Lock()
	s.stack = append(s.stack, s.current)
	s.current = target
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.current = s.stack[len(s.stack)-1]
			s.stack = s.stack[:len(s.stack)-1]
			s.mu.Unlock()
		})
	}
}
