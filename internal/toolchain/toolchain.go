// Package toolchain resolves the compiler, linker and standard-library
// pairing for one build variant. Native mode passes the host or backend
// SDK compilers through; legacy-glibc mode bootstraps a toolchain linked
// against an older system library so artifacts run on older
// distributions than the build host.
package toolchain

import (
	"errors"
	"fmt"
	"os/exec"
)

// Mode selects the system-library compatibility target of a build.
type Mode string

const (
	ModeNative      Mode = "native"
	ModeLegacyGlibc Mode = "legacy-glibc"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNative, ModeLegacyGlibc:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown compatibility mode %q", s)
}

// ErrNotFound is returned when no compiler matching the backend can be
// discovered. It is always fatal: a silently substituted toolchain
// produces binaries that load into a crashing host process.
var ErrNotFound = errors.New("toolchain not found")

// Pin identifies an exact upstream revision of a bootstrap input.
// Reproducibility is a hard requirement: the same pin must yield a
// bit-identical toolchain.
type Pin struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Revision string `yaml:"revision"`
	Digest   string `yaml:"digest"`
}

func (p Pin) id() string { return p.Name + "-" + p.Version + "-" + p.Revision }

// Pins are the bootstrap inputs for legacy-glibc mode.
type Pins struct {
	Glibc Pin `yaml:"glibc"`
	GCC   Pin `yaml:"gcc"`
}

// RuntimeLib is the compiler's bundled runtime-support library together
// with the system-library version it was linked against.
type RuntimeLib struct {
	Path              string
	BuiltAgainstGlibc string // empty for native builds
}

// Spec is a fully resolved toolchain for one build. Derived fresh per
// variant; never reused across compatibility modes because the target
// glibc can differ from the ambient build environment's.
type Spec struct {
	CC           string
	CXX          string
	Linker       string
	CompilerRT   RuntimeLib
	GlibcVersion string // set only in legacy-glibc mode
	ExtraLDFlags []string
	Env          map[string]string
}

// Locator finds executables on the build host. Production code uses
// ExecLocator; tests inject a fake.
type Locator interface {
	Look(name string) (string, error)
}

// ExecLocator resolves names through the ambient PATH.
type ExecLocator struct{}

func (ExecLocator) Look(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// lowMemoryLDFlags trade link speed for a bounded memory footprint, used
// when the builder runs in degraded low-memory mode.
var lowMemoryLDFlags = []string{"-Wl,--no-keep-memory", "-Wl,--reduce-memory-overheads"}
