package domain

import (
	"fmt"
	"path/filepath"
)

// Environment identifies a runtime environment. SystemEnvironment denotes
// the ambient process environment; any other value is a path to a
// self-contained GOPATH-style directory.
type Environment string

// SystemEnvironment is the sentinel for the ambient/global environment.
const SystemEnvironment Environment = "$system"

// IsSystem reports whether e is the ambient environment sentinel.
func (e Environment) IsSystem() bool { return e == SystemEnvironment }

// Normalize canonicalizes e so that two spellings of the same environment
// compare byte-equal: the sentinel is returned untouched, everything else
// becomes a cleaned absolute path. An empty value normalizes to the sentinel.
func (e Environment) Normalize() (Environment, error) {
	if e == "" || e.IsSystem() {
		return SystemEnvironment, nil
	}
	abs, err := filepath.Abs(string(e))
	if err != nil {
		return "", fmt.Errorf("op=domain.Normalize env=%q: %w", string(e), ErrUnknownEnvironment)
	}
	return Environment(filepath.Clean(abs)), nil
}

func (e Environment) String() string { return string(e) }
