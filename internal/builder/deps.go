package builder

import (
	"errors"
	"fmt"
)

// ErrMissingDependency marks a declared dependency absent from the
// package set. Fatal per variant.
var ErrMissingDependency = errors.New("dependency not found in package set")

// DepPaths is where a resolved dependency lives in the build
// environment.
type DepPaths struct {
	IncludeDirs []string
	Defines     map[string]string
}

// DepResolver resolves a manifest dependency name against the variant's
// package set.
type DepResolver interface {
	Resolve(name string) (DepPaths, error)
}

// PackageSet is a static name -> paths table, the production resolver
// for the pinned package environment.
type PackageSet map[string]DepPaths

func (s PackageSet) Resolve(name string) (DepPaths, error) {
	p, ok := s[name]
	if !ok {
		return DepPaths{}, fmt.Errorf("%w: %q", ErrMissingDependency, name)
	}
	return p, nil
}

// DefaultPackageSet returns the package set of the standard build
// environment, rooted at the given prefix.
func DefaultPackageSet(prefix string) PackageSet {
	inc := func(parts ...string) []string {
		out := make([]string, len(parts))
		for i, p := range parts {
			out[i] = prefix + "/" + p + "/include"
		}
		return out
	}
	return PackageSet{
		"torch":        {IncludeDirs: inc("torch", "torch/torch/csrc/api")},
		"cutlass_2_10": {IncludeDirs: inc("cutlass-2.10")},
		"cutlass_3_5":  {IncludeDirs: inc("cutlass-3.5")},
		"cutlass_3_6":  {IncludeDirs: inc("cutlass-3.6")},
		"cutlass_3_8":  {IncludeDirs: inc("cutlass-3.8")},
	}
}
