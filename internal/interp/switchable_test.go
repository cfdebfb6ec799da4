package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwitchableSwitchAndRestore(t *testing.T) {
	s := NewSwitchable("original")
	assert.Equal(t, "original", s.Current())
	assert.Equal(t, "original", s.Original())

	restore := s.SwitchTo("replacement")
	assert.Equal(t, "replacement", s.Current())
	assert.Equal(t, "original", s.Original())

	restore()
	assert.Equal(t, "original", s.Current())
}

func TestSwitchableNesting(t *testing.T) {
	s := NewSwitchable(1)
	r1 := s.SwitchTo(2)
	r2 := s.SwitchTo(3)
	assert.Equal(t, 3, s.Current())
	assert.Equal(t, 1, s.Original())

	// Popping the inner level re-exposes the outer replacement.
	r2()
	assert.Equal(t, 2, s.Current())
	r1()
	assert.Equal(t, 1, s.Current())
}

func TestSwitchableRestoreIsIdempotent(t *testing.T) {
	s := NewSwitchable("a")
	restore := s.SwitchTo("b")
	restore()
	restore()
	assert.Equal(t, "a", s.Current())
}
