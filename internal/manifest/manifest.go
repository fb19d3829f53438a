// Package manifest parses and validates per-kernel build.toml files and
// decides which catalog variants apply to a kernel.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/tensorkit/forge/internal/catalog"
)

// knownDeps are the dependency names a kernel may declare. Each maps to a
// pinned package in the build environment's package set.
var knownDeps = map[string]struct{}{
	"torch":        {},
	"cutlass_2_10": {},
	"cutlass_3_5":  {},
	"cutlass_3_6":  {},
	"cutlass_3_8":  {},
}

// ValidationError is a per-manifest fatal error. It carries the manifest
// path so a multi-kernel invocation can report which file is broken
// without aborting the others.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %s", e.Path, e.Reason)
}

// Manifest is one kernel project's build declaration, read-only after
// load.
type Manifest struct {
	General General           `toml:"general"`
	Torch   *Torch            `toml:"torch"`
	Kernels map[string]Kernel `toml:"kernel"`

	path string
}

type General struct {
	Name      string `toml:"name"`
	Universal bool   `toml:"universal"`
}

// Torch holds the universal-extension sources shared by every variant.
type Torch struct {
	Src     []string `toml:"src"`
	Include []string `toml:"include"`
	PyExt   []string `toml:"pyext"`
}

// Kernel is one backend-specific sub-kernel.
type Kernel struct {
	Backend          string   `toml:"backend"`
	Src              []string `toml:"src"`
	Include          []string `toml:"include"`
	Depends          []string `toml:"depends"`
	CUDACapabilities []string `toml:"cuda-capabilities"`
	ROCmArchs        []string `toml:"rocm-archs"`
	SYCLTargets      []string `toml:"sycl-targets"`
}

// Load reads, strictly decodes and validates a build.toml.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Parse decodes a manifest. Unknown fields are rejected so typos in axis
// names fail loudly instead of being silently ignored.
func Parse(data []byte, path string) (*Manifest, error) {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, &ValidationError{Path: path, Reason: err.Error()}
	}
	m.path = path
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Path() string { return m.path }

func (m *Manifest) fail(format string, args ...any) error {
	return &ValidationError{Path: m.path, Reason: fmt.Sprintf(format, args...)}
}

func (m *Manifest) validate() error {
	if m.General.Name == "" {
		return m.fail("general.name is required")
	}
	if m.General.Universal && len(m.Kernels) > 0 {
		return m.fail("universal kernels must not declare backend-specific sub-kernels, found %d", len(m.Kernels))
	}
	if !m.General.Universal && len(m.Kernels) == 0 {
		return m.fail("no backend-specific sub-kernels and universal flag unset; set general.universal = true if this kernel has no compiled backend code")
	}
	for name, k := range m.Kernels {
		backend, err := catalog.ParseBackend(k.Backend)
		if err != nil {
			return m.fail("kernel.%s: %v", name, err)
		}
		if backend == catalog.BackendCPU {
			return m.fail("kernel.%s: sub-kernels must declare a device backend (cuda, rocm, metal, xpu), not cpu", name)
		}
		if len(k.Src) == 0 {
			return m.fail("kernel.%s: src list is empty", name)
		}
		for _, dep := range k.Depends {
			if _, ok := knownDeps[dep]; !ok {
				return m.fail("kernel.%s: unknown dependency %q", name, dep)
			}
		}
	}
	return nil
}

// Backends returns the distinct device backends declared across
// sub-kernels, sorted for deterministic output. Empty for universal
// manifests.
func (m *Manifest) Backends() []catalog.Backend {
	seen := make(map[catalog.Backend]struct{})
	for _, k := range m.Kernels {
		seen[catalog.Backend(k.Backend)] = struct{}{}
	}
	out := make([]catalog.Backend, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeclaresBackend reports whether any sub-kernel targets the backend.
func (m *Manifest) DeclaresBackend(b catalog.Backend) bool {
	for _, k := range m.Kernels {
		if catalog.Backend(k.Backend) == b {
			return true
		}
	}
	return false
}

// KernelsFor returns the names of sub-kernels declaring the backend,
// sorted.
func (m *Manifest) KernelsFor(b catalog.Backend) []string {
	var out []string
	for name, k := range m.Kernels {
		if catalog.Backend(k.Backend) == b {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
