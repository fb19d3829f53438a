// Package builder drives per-variant kernel builds: it assembles the
// source set and toolchain for one (kernel, variant) pair, hands the
// compile to the external build tool, and applies the post-build
// portability fixups and ABI gate. The orchestrator fans builds out
// across variants with bounded two-level parallelism.
package builder

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/tensorkit/forge/internal/catalog"
	"github.com/tensorkit/forge/internal/toolchain"
)

// CompileJob is everything the external build tool needs for one
// variant: the filtered source set, resolved toolchain and the flags
// that bake the variant identity into the binary.
type CompileJob struct {
	Kernel   string
	Variant  catalog.Variant
	Sources  []string
	Includes []string
	Defines  map[string]string
	// ArchList is the backend device-target list: CUDA compute
	// capabilities, ROCm gfx archs or SYCL targets.
	ArchList  []string
	Threads   int
	Toolchain *toolchain.Spec
}

// Compiler is the external build-tool invocation, out of scope for this
// module. Compile returns the directory containing the built shared
// libraries. Compile errors are propagated verbatim.
type Compiler interface {
	Compile(ctx context.Context, job *CompileJob) (string, error)
}

// Runner executes host tools (patchelf, install_name_tool, ...).
// Injected so fixups are testable without the tools installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return out, nil
}
