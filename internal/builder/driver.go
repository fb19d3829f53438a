package builder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tensorkit/forge/internal/abicheck"
	"github.com/tensorkit/forge/internal/catalog"
	"github.com/tensorkit/forge/internal/manifest"
	"github.com/tensorkit/forge/internal/metrics"
	"github.com/tensorkit/forge/internal/toolchain"
)

// ErrAbiIncompatible marks an artifact rejected by the ABI gate. Fatal
// when the compatibility mode requires the check.
var ErrAbiIncompatible = errors.New("artifact uses symbols beyond the declared minimum ABI")

// BuildOutput is one compiled artifact set for a (kernel, variant) pair.
// Owned by the producing build until handed to the bundle assembler.
type BuildOutput struct {
	Kernel    string
	Variant   catalog.Variant
	Universal bool
	Dir       string
}

// Name is the output-tree directory this artifact belongs under.
func (o BuildOutput) Name() string {
	if o.Universal {
		return catalog.UniversalName
	}
	return o.Variant.Name()
}

// Options tune the driver and orchestrator.
type Options struct {
	Mode    toolchain.Mode
	Jobs    int // max concurrent variant builds (N)
	Threads int // compile threads per build (M)
	// CoreBudget caps total concurrent compile threads (N*M effective);
	// 0 means no cap beyond Jobs.
	CoreBudget int
	// Dev skips portability fixups for local iteration builds.
	Dev bool
	// LowMemory serializes builds and selects the memory-conserving
	// linker strategy.
	LowMemory bool
	// MinGlibc is the declared minimum system-library version the ABI
	// gate checks against in legacy mode.
	MinGlibc string
}

// Driver builds one variant at a time; BuildAll fans it out.
type Driver struct {
	compiler Compiler
	deps     DepResolver
	tc       *toolchain.Resolver
	abi      abicheck.Checker
	runner   Runner
	log      *zap.Logger
	opts     Options
}

func NewDriver(compiler Compiler, deps DepResolver, tc *toolchain.Resolver, abi abicheck.Checker, runner Runner, log *zap.Logger, opts Options) *Driver {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}
	if opts.LowMemory {
		opts.Jobs = 1
	}
	return &Driver{
		compiler: compiler,
		deps:     deps,
		tc:       tc,
		abi:      abi,
		runner:   runner,
		log:      log.Named("builder"),
		opts:     opts,
	}
}

// Build compiles one (kernel, variant) pair. The backend-consistency
// precondition is re-checked because drivers may be invoked directly,
// bypassing the gate.
func (d *Driver) Build(ctx context.Context, m *manifest.Manifest, v catalog.Variant) (*BuildOutput, error) {
	if !m.General.Universal && !m.DeclaresBackend(v.Backend) {
		return nil, fmt.Errorf("kernel %s declares no %s sub-kernel, variant %s does not apply",
			m.General.Name, v.Backend, v.Name())
	}

	log := d.log.With(zap.String("kernel", m.General.Name), zap.String("variant", v.Name()))

	job, err := d.assembleJob(m, v)
	if err != nil {
		return nil, err
	}

	spec, err := d.tc.Resolve(v, d.opts.Mode)
	if err != nil {
		return nil, err
	}
	metrics.ToolchainResolutions.WithLabelValues(string(d.opts.Mode)).Inc()
	job.Toolchain = spec

	log.Info("compiling", zap.Int("sources", len(job.Sources)), zap.Int("threads", job.Threads))
	outDir, err := d.compiler.Compile(ctx, job)
	if err != nil {
		// Verbatim: the external tool's diagnostics are the error.
		return nil, err
	}

	if !d.opts.Dev {
		if err := fixupOutputs(ctx, d.runner, v.Target.OS, outDir); err != nil {
			return nil, err
		}
	}

	if err := d.checkABI(ctx, log, v, outDir); err != nil {
		return nil, err
	}

	return &BuildOutput{
		Kernel:    m.General.Name,
		Variant:   v,
		Universal: m.General.Universal,
		Dir:       outDir,
	}, nil
}

// assembleJob filters kernel sources to the variant's backend and folds
// in the universal sources, dependency includes and device arch list.
func (d *Driver) assembleJob(m *manifest.Manifest, v catalog.Variant) (*CompileJob, error) {
	job := &CompileJob{
		Kernel:  m.General.Name,
		Variant: v,
		Threads: d.opts.Threads,
		Defines: map[string]string{
			// Bake the variant identity into the binary for debugging.
			"KERNEL_VARIANT": v.Name(),
		},
	}
	if m.Torch != nil {
		job.Sources = append(job.Sources, m.Torch.Src...)
		job.Includes = append(job.Includes, m.Torch.Include...)
	}

	depNames := make(map[string]struct{})
	for _, name := range m.KernelsFor(v.Backend) {
		k := m.Kernels[name]
		job.Sources = append(job.Sources, k.Src...)
		job.Includes = append(job.Includes, k.Include...)
		for _, dep := range k.Depends {
			depNames[dep] = struct{}{}
		}
		switch v.Backend {
		case catalog.BackendCUDA:
			job.ArchList = append(job.ArchList, k.CUDACapabilities...)
		case catalog.BackendROCm:
			job.ArchList = append(job.ArchList, k.ROCmArchs...)
		case catalog.BackendXPU:
			job.ArchList = append(job.ArchList, k.SYCLTargets...)
		}
	}

	sorted := make([]string, 0, len(depNames))
	for dep := range depNames {
		sorted = append(sorted, dep)
	}
	sort.Strings(sorted)
	for _, dep := range sorted {
		paths, err := d.deps.Resolve(dep)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", m.General.Name, err)
		}
		job.Includes = append(job.Includes, paths.IncludeDirs...)
		for k, val := range paths.Defines {
			job.Defines[k] = val
		}
	}
	return job, nil
}

// checkABI runs the compliance gate over the built libraries. On the
// legacy path a violation is fatal; otherwise it is logged and the
// artifact passes.
func (d *Driver) checkABI(ctx context.Context, log *zap.Logger, v catalog.Variant, outDir string) error {
	if d.abi == nil || v.Target.OS != "linux" {
		return nil
	}
	libs, err := sharedLibraries(outDir)
	if err != nil {
		return err
	}
	mandatory := d.opts.Mode == toolchain.ModeLegacyGlibc
	for _, lib := range libs {
		res, err := d.abi.Check(ctx, lib, d.opts.MinGlibc)
		if err != nil {
			if mandatory {
				return err
			}
			log.Warn("abi check could not run", zap.String("lib", lib), zap.Error(err))
			continue
		}
		if res.Compatible {
			continue
		}
		metrics.AbiCheckFailures.Inc()
		if mandatory {
			// The checker can fail the gate without parseable diagnostics.
			if len(res.Violations) == 0 {
				return fmt.Errorf("%w: %s: checker gave no diagnostics", ErrAbiIncompatible, lib)
			}
			first := res.Violations[0]
			return fmt.Errorf("%w: %s: %d violations (first: %s %s)",
				ErrAbiIncompatible, lib, len(res.Violations), first.Symbol, first.Version)
		}
		log.Warn("abi violations in non-legacy build",
			zap.String("lib", lib), zap.Int("violations", len(res.Violations)))
	}
	return nil
}

// instrumented wraps Build with metrics.
func (d *Driver) instrumented(ctx context.Context, m *manifest.Manifest, v catalog.Variant) (*BuildOutput, time.Duration, error) {
	metrics.BuildsInFlight.Inc()
	defer metrics.BuildsInFlight.Dec()

	start := time.Now()
	out, err := d.Build(ctx, m, v)
	elapsed := time.Since(start)

	metrics.VariantBuildDuration.Observe(elapsed.Seconds())
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.VariantBuilds.WithLabelValues(string(v.Backend), status).Inc()
	return out, elapsed, err
}
