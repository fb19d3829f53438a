package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tensorkit/forge/internal/abicheck"
	"github.com/tensorkit/forge/internal/catalog"
	"github.com/tensorkit/forge/internal/manifest"
	"github.com/tensorkit/forge/internal/toolchain"
)

const testManifest = `
[general]
name = "relu"

[torch]
src = ["torch-ext/torch_binding.cpp"]

[kernel.relu_cuda]
backend = "cuda"
depends = ["torch", "cutlass_3_8"]
src = ["relu_kernel/relu.cu"]
cuda-capabilities = ["8.0", "9.0"]

[kernel.relu_rocm]
backend = "rocm"
depends = ["torch"]
src = ["relu_kernel/relu_hip.cu"]
rocm-archs = ["gfx942"]
`

// fakeCompiler materializes a fake shared library per job and optionally
// fails selected variants.
type fakeCompiler struct {
	t    *testing.T
	fail map[string]error // keyed by variant name

	mu   sync.Mutex
	jobs []*CompileJob
}

func (f *fakeCompiler) Compile(_ context.Context, job *CompileJob) (string, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if err, ok := f.fail[job.Variant.Name()]; ok {
		return "", err
	}
	dir := f.t.TempDir()
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "_"+job.Kernel+".so"), []byte("elf"), 0o644))
	return dir, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	return nil, f.fail
}

type fakeABI struct {
	violations   []abicheck.Violation
	incompatible bool // fail the gate even without diagnostics
	err          error
}

func (f *fakeABI) Check(context.Context, string, string) (*abicheck.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	compatible := !f.incompatible && len(f.violations) == 0
	return &abicheck.Result{Compatible: compatible, Violations: f.violations}, nil
}

type allTools struct{}

func (allTools) Look(name string) (string, error) { return "/usr/bin/" + name, nil }

func testResolver(t *testing.T) *toolchain.Resolver {
	t.Helper()
	pins := toolchain.Pins{
		Glibc: toolchain.Pin{Name: "glibc", Version: "2.27", Revision: "r1"},
		GCC:   toolchain.Pin{Name: "gcc", Version: "13.3.0", Revision: "r1"},
	}
	return toolchain.NewResolver(allTools{}, t.TempDir(), pins, zap.NewNop())
}

func testDriver(t *testing.T, compiler Compiler, runner Runner, abi abicheck.Checker, opts Options) *Driver {
	t.Helper()
	deps := DefaultPackageSet("/opt/forge/pkgs")
	return NewDriver(compiler, deps, testResolver(t), abi, runner, zap.NewNop(), opts)
}

func loadManifest(t *testing.T, src string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(src), "test/build.toml")
	require.NoError(t, err)
	return m
}

func cudaVariant() catalog.Variant {
	return catalog.Variant{
		Torch:          catalog.MustVersion("2.8"),
		Backend:        catalog.BackendCUDA,
		BackendVersion: catalog.MustVersion("12.6"),
		ABI:            catalog.CxxABIModern,
		Target:         catalog.Target{Arch: "x86_64", OS: "linux"},
		Upstream:       true,
	}
}

func TestBuild(t *testing.T) {
	m := loadManifest(t, testManifest)

	t.Run("assembles backend-filtered source set", func(t *testing.T) {
		fc := &fakeCompiler{t: t}
		d := testDriver(t, fc, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true})

		out, err := d.Build(context.Background(), m, cudaVariant())
		require.NoError(t, err)
		assert.Equal(t, "torch28-cxx11-cu126-x86_64-linux", out.Name())

		require.Len(t, fc.jobs, 1)
		job := fc.jobs[0]
		assert.Contains(t, job.Sources, "torch-ext/torch_binding.cpp")
		assert.Contains(t, job.Sources, "relu_kernel/relu.cu")
		assert.NotContains(t, job.Sources, "relu_kernel/relu_hip.cu", "rocm sources must not leak into cuda builds")
		assert.Equal(t, []string{"8.0", "9.0"}, job.ArchList)
		assert.Equal(t, "torch28-cxx11-cu126-x86_64-linux", job.Defines["KERNEL_VARIANT"])
		assert.Contains(t, job.Includes, "/opt/forge/pkgs/cutlass-3.8/include")
	})

	t.Run("rejects inconsistent backend", func(t *testing.T) {
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true})
		v := cudaVariant()
		v.Backend = catalog.BackendXPU
		v.BackendVersion = catalog.MustVersion("2025.1")
		_, err := d.Build(context.Background(), m, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not apply")
	})

	t.Run("missing dependency is fatal", func(t *testing.T) {
		d := NewDriver(&fakeCompiler{t: t}, PackageSet{}, testResolver(t), nil, &fakeRunner{}, zap.NewNop(),
			Options{Mode: toolchain.ModeNative, Dev: true})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingDependency)
	})

	t.Run("compile error propagates verbatim", func(t *testing.T) {
		boom := errors.New("nvcc exited with status 2")
		fc := &fakeCompiler{t: t, fail: map[string]error{cudaVariant().Name(): boom}}
		d := testDriver(t, fc, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true})
		_, err := d.Build(context.Background(), m, cudaVariant())
		assert.ErrorIs(t, err, boom)
	})
}

func TestFixups(t *testing.T) {
	m := loadManifest(t, testManifest)

	t.Run("linux clears the runtime search path", func(t *testing.T) {
		runner := &fakeRunner{}
		d := testDriver(t, &fakeCompiler{t: t}, runner, nil, Options{Mode: toolchain.ModeNative})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.NoError(t, err)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, "patchelf", runner.calls[0][0])
		assert.Equal(t, "--remove-rpath", runner.calls[0][1])
	})

	t.Run("dev builds skip fixups", func(t *testing.T) {
		runner := &fakeRunner{}
		d := testDriver(t, &fakeCompiler{t: t}, runner, nil, Options{Mode: toolchain.ModeNative, Dev: true})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.NoError(t, err)
		assert.Empty(t, runner.calls)
	})

	t.Run("fixup failure is fatal", func(t *testing.T) {
		runner := &fakeRunner{fail: errors.New("patchelf: not an ELF executable")}
		d := testDriver(t, &fakeCompiler{t: t}, runner, nil, Options{Mode: toolchain.ModeNative})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFixup)
	})

	t.Run("darwin rewrites install names", func(t *testing.T) {
		runner := &fakeRunner{}
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "_relu.dylib"), []byte("macho"), 0o644))
		require.NoError(t, fixupOutputs(context.Background(), runner, "darwin", dir))
		require.Len(t, runner.calls, 2)
		assert.Equal(t, []string{"install_name_tool", "-id", "@rpath/_relu.dylib", filepath.Join(dir, "_relu.dylib")}, runner.calls[0])
		assert.Contains(t, runner.calls[1], "@loader_path")
	})
}

func TestABIGate(t *testing.T) {
	m := loadManifest(t, testManifest)
	violation := []abicheck.Violation{{Symbol: "memcpy", Version: "GLIBC_2.34"}}

	t.Run("mandatory on the legacy path", func(t *testing.T) {
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, &fakeABI{violations: violation},
			Options{Mode: toolchain.ModeLegacyGlibc, MinGlibc: "2.27"})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAbiIncompatible)
	})

	t.Run("gate failure without diagnostics is still a per-variant error", func(t *testing.T) {
		// kernel-abi-check can exit 1 with nothing parseable on its
		// output streams; the variant must fail cleanly, not crash.
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, &fakeABI{incompatible: true},
			Options{Mode: toolchain.ModeLegacyGlibc, MinGlibc: "2.27"})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAbiIncompatible)
	})

	t.Run("advisory in native mode", func(t *testing.T) {
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, &fakeABI{violations: violation},
			Options{Mode: toolchain.ModeNative})
		_, err := d.Build(context.Background(), m, cudaVariant())
		assert.NoError(t, err)
	})

	t.Run("checker invocation error fatal only when mandatory", func(t *testing.T) {
		broken := &fakeABI{err: errors.New("kernel-abi-check: no such file")}
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, broken,
			Options{Mode: toolchain.ModeLegacyGlibc, MinGlibc: "2.27"})
		_, err := d.Build(context.Background(), m, cudaVariant())
		require.Error(t, err)

		d = testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, broken, Options{Mode: toolchain.ModeNative})
		_, err = d.Build(context.Background(), m, cudaVariant())
		assert.NoError(t, err)
	})
}

func TestBuildAll(t *testing.T) {
	m := loadManifest(t, testManifest)
	cat, err := catalog.Default()
	require.NoError(t, err)
	linux := catalog.Target{Arch: "x86_64", OS: "linux"}
	variants, err := manifest.ApplicableVariants(m, cat, linux)
	require.NoError(t, err)
	require.Greater(t, len(variants), 2)

	t.Run("a failed variant does not abort siblings", func(t *testing.T) {
		failing := variants[0].Name()
		fc := &fakeCompiler{t: t, fail: map[string]error{failing: errors.New("ptxas ran out of registers")}}
		d := testDriver(t, fc, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true, Jobs: 4})

		report := d.BuildAll(context.Background(), m, variants, false)
		require.Len(t, report.Results, len(variants))

		var ok, failed int
		for _, res := range report.Results {
			switch res.Status {
			case StatusOK:
				ok++
			case StatusFailed:
				failed++
				assert.Equal(t, failing, res.Name)
			}
		}
		assert.Equal(t, 1, failed)
		assert.Equal(t, len(variants)-1, ok)
		assert.False(t, report.Complete(), "an upstream failure must not report complete")
	})

	t.Run("all green is complete", func(t *testing.T) {
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true, Jobs: 2})
		report := d.BuildAll(context.Background(), m, variants, false)
		assert.True(t, report.Complete())
		assert.Len(t, report.Outputs(), len(variants))
	})

	t.Run("upstream-only skips experimental variants", func(t *testing.T) {
		all := cat.All(linux) // includes non-upstream xpu and cpu entries
		um := loadManifest(t, `
[general]
name = "universal-ish"

[kernel.k_xpu]
backend = "xpu"
src = ["k.sycl.cpp"]
`)
		xpuVariants := filterVariants(all, catalog.BackendXPU)
		require.NotEmpty(t, xpuVariants)
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true, Jobs: 2})
		report := d.BuildAll(context.Background(), um, xpuVariants, true)
		for _, res := range report.Results {
			assert.Equal(t, StatusSkipped, res.Status)
		}
		assert.True(t, report.Complete(), "skipped experimental variants do not block completeness")
	})

	t.Run("universal result is named torch-universal", func(t *testing.T) {
		um := loadManifest(t, `
[general]
name = "silu-universal"
universal = true

[torch]
src = ["torch-ext/silu.py"]
`)
		vs, err := manifest.ApplicableVariants(um, cat, linux)
		require.NoError(t, err)
		d := testDriver(t, &fakeCompiler{t: t}, &fakeRunner{}, nil, Options{Mode: toolchain.ModeNative, Dev: true})
		report := d.BuildAll(context.Background(), um, vs, false)
		require.Len(t, report.Results, 1)
		assert.Equal(t, catalog.UniversalName, report.Results[0].Name)
	})

	t.Run("core budget admits at most one wide job at a time", func(t *testing.T) {
		// 4 threads per job against a budget of 4: jobs must serialize.
		var mu sync.Mutex
		inFlight, peak := 0, 0
		fc := &gatedCompiler{t: t, enter: func() {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
		}, leave: func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}}
		d := testDriver(t, fc, &fakeRunner{}, nil,
			Options{Mode: toolchain.ModeNative, Dev: true, Jobs: 4, Threads: 4, CoreBudget: 4})
		report := d.BuildAll(context.Background(), m, variants, false)
		assert.True(t, report.Complete())
		assert.Equal(t, 1, peak)
	})
}

type gatedCompiler struct {
	t     *testing.T
	enter func()
	leave func()
}

func (g *gatedCompiler) Compile(_ context.Context, job *CompileJob) (string, error) {
	g.enter()
	defer g.leave()
	dir := g.t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "_"+job.Kernel+".so"), []byte("elf"), 0o644); err != nil {
		return "", fmt.Errorf("write fake library: %w", err)
	}
	return dir, nil
}

func filterVariants(vs []catalog.Variant, b catalog.Backend) []catalog.Variant {
	var out []catalog.Variant
	for _, v := range vs {
		if v.Backend == b {
			out = append(out, v)
		}
	}
	return out
}

