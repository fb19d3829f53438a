package catalog

import (
	"fmt"
	"strings"
)

// CxxABI selects between the two incompatible C++ standard-library
// symbol-naming conventions.
type CxxABI string

const (
	CxxABIModern CxxABI = "cxx11"
	CxxABILegacy CxxABI = "cxx98"
)

func ParseCxxABI(s string) (CxxABI, error) {
	switch CxxABI(s) {
	case CxxABIModern, CxxABILegacy:
		return CxxABI(s), nil
	}
	return "", fmt.Errorf("unknown C++ ABI %q", s)
}

// Target is the host system an artifact runs on.
type Target struct {
	Arch string // x86_64, aarch64
	OS   string // linux, darwin
}

func ParseTarget(s string) (Target, error) {
	arch, os, ok := strings.Cut(s, "-")
	if !ok || arch == "" || os == "" {
		return Target{}, fmt.Errorf("invalid target system %q (want <arch>-<os>)", s)
	}
	switch arch {
	case "x86_64", "aarch64":
	default:
		return Target{}, fmt.Errorf("unknown architecture %q", arch)
	}
	switch os {
	case "linux", "darwin":
	default:
		return Target{}, fmt.Errorf("unknown OS %q", os)
	}
	return Target{Arch: arch, OS: os}, nil
}

func (t Target) String() string { return t.Arch + "-" + t.OS }

// Variant is one point in the build matrix. Constructed at catalog load
// time and immutable afterwards; every downstream component takes it by
// value.
type Variant struct {
	Torch          Version
	Backend        Backend
	BackendVersion Version // zero unless Backend.RequiresVersion()
	ABI            CxxABI  // empty for metal
	Target         Target
	Upstream       bool
}

// key renders the matrix point for error messages.
func (v Variant) key() string {
	return strings.Join([]string{
		v.Torch.String(), string(v.Backend), v.BackendVersion.String(),
		string(v.ABI), v.Target.String(),
	}, "|")
}

// sameMatrixPoint reports whether two variants denote the same matrix
// point. Versions compare by normalized components, so a "2.7" entry and
// a "2.7.0" entry are duplicates even though their names differ only in
// spelling on disk.
func (v Variant) sameMatrixPoint(o Variant) bool {
	return v.Torch.Equal(o.Torch) &&
		v.Backend == o.Backend &&
		v.BackendVersion.Equal(o.BackendVersion) &&
		v.ABI == o.ABI &&
		v.Target == o.Target
}

func (v Variant) validate() error {
	if v.Torch.IsZero() {
		return fmt.Errorf("missing torch version")
	}
	if v.Backend.RequiresVersion() && v.BackendVersion.IsZero() {
		return fmt.Errorf("backend %s requires a version, none given", v.Backend)
	}
	if !v.Backend.RequiresVersion() && !v.BackendVersion.IsZero() {
		return fmt.Errorf("backend %s does not take a version, got %q", v.Backend, v.BackendVersion)
	}
	if v.Backend.HasCxxABI() {
		if _, err := ParseCxxABI(string(v.ABI)); err != nil {
			return fmt.Errorf("backend %s: %w", v.Backend, err)
		}
	} else if v.ABI != "" {
		return fmt.Errorf("backend %s is ABI-monolithic, abi must be unset", v.Backend)
	}
	if v.Backend == BackendMetal && v.Target.OS != "darwin" {
		return fmt.Errorf("metal variants require a darwin target, got %s", v.Target)
	}
	return nil
}
