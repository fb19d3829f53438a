package toolchain

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tensorkit/forge/internal/catalog"
)

// Resolver resolves toolchains per variant. The base toolchain for a
// given (OS, mode) pair is memoized: the legacy bootstrap is expensive
// and shared read-only across concurrent variant builds, including its
// failure, which then fails every variant depending on it.
type Resolver struct {
	loc       Locator
	pins      Pins
	store     string
	lowMemory bool
	log       *zap.Logger

	mu   sync.Mutex
	base map[baseKey]*baseResult
}

type baseKey struct {
	os   string
	mode Mode
}

type baseResult struct {
	spec *Spec
	err  error
}

type Option func(*Resolver)

// WithLowMemory adds the memory-conserving linker flags to every
// resolved spec.
func WithLowMemory() Option {
	return func(r *Resolver) { r.lowMemory = true }
}

// NewResolver builds a resolver. store is the root directory bootstrap
// toolchains are laid out under; pins are ignored in native mode.
func NewResolver(loc Locator, store string, pins Pins, log *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		loc:   loc,
		pins:  pins,
		store: store,
		log:   log.Named("toolchain"),
		base:  make(map[baseKey]*baseResult),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve produces the toolchain for one variant. The result is derived
// fresh per call (callers may mutate Env), on top of the memoized base.
func (r *Resolver) Resolve(v catalog.Variant, mode Mode) (*Spec, error) {
	base, err := r.resolveBase(v.Target.OS, mode)
	if err != nil {
		return nil, err
	}
	spec := &Spec{
		CC:           base.CC,
		CXX:          base.CXX,
		Linker:       base.Linker,
		CompilerRT:   base.CompilerRT,
		GlibcVersion: base.GlibcVersion,
		Env:          map[string]string{},
	}
	for k, val := range base.Env {
		spec.Env[k] = val
	}
	spec.ExtraLDFlags = append(spec.ExtraLDFlags, base.ExtraLDFlags...)
	if r.lowMemory && v.Target.OS == "linux" {
		spec.ExtraLDFlags = append(spec.ExtraLDFlags, lowMemoryLDFlags...)
	}
	if err := r.layerBackend(spec, v.Backend); err != nil {
		return nil, err
	}
	return spec, nil
}

// resolveBase returns the host-compiler/glibc pairing for an OS and
// compatibility mode, computing it at most once.
func (r *Resolver) resolveBase(os string, mode Mode) (*Spec, error) {
	key := baseKey{os: os, mode: mode}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.base[key]; ok {
		return cached.spec, cached.err
	}

	spec, err := r.buildBase(os, mode)
	r.base[key] = &baseResult{spec: spec, err: err}
	if err != nil {
		r.log.Error("base toolchain resolution failed; all variants on this OS and mode will fail",
			zap.String("os", os), zap.String("mode", string(mode)), zap.Error(err))
	}
	return spec, err
}

func (r *Resolver) buildBase(os string, mode Mode) (*Spec, error) {
	switch mode {
	case ModeLegacyGlibc:
		if os != "linux" {
			return nil, fmt.Errorf("legacy-glibc mode is linux-only, got %s", os)
		}
		r.log.Info("bootstrapping legacy-glibc toolchain",
			zap.String("glibc", r.pins.Glibc.id()), zap.String("gcc", r.pins.GCC.id()))
		return bootstrap(r.store, r.loc, r.pins)

	case ModeNative:
		var cc, cxx string
		if os == "darwin" {
			cc, cxx = "clang", "clang++"
		} else {
			cc, cxx = "gcc", "g++"
		}
		ccPath, err := r.loc.Look(cc)
		if err != nil {
			return nil, err
		}
		cxxPath, err := r.loc.Look(cxx)
		if err != nil {
			return nil, err
		}
		return &Spec{CC: ccPath, CXX: cxxPath, Linker: cxxPath, Env: map[string]string{}}, nil
	}
	return nil, fmt.Errorf("unknown compatibility mode %q", mode)
}

// layerBackend swaps in the backend SDK's own compiler front-end while
// keeping the base toolchain as the host compiler underneath.
func (r *Resolver) layerBackend(spec *Spec, b catalog.Backend) error {
	switch b {
	case catalog.BackendCUDA:
		nvcc, err := r.loc.Look("nvcc")
		if err != nil {
			return err
		}
		// nvcc compiles device code itself and hands host code to CXX.
		spec.Env["CUDAHOSTCXX"] = spec.CXX
		spec.CC = nvcc
		spec.CXX = nvcc
	case catalog.BackendROCm:
		hipcc, err := r.loc.Look("hipcc")
		if err != nil {
			return err
		}
		spec.CC = hipcc
		spec.CXX = hipcc
	case catalog.BackendXPU:
		icpx, err := r.loc.Look("icpx")
		if err != nil {
			return err
		}
		spec.CC = icpx
		spec.CXX = icpx
	case catalog.BackendCPU, catalog.BackendMetal:
		// Platform default from the base toolchain.
	}
	return nil
}
