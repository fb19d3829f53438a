package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ExternalCompiler adapts the out-of-process build tool to the Compiler
// interface. The tool owns project generation and compilation; this
// adapter only translates a CompileJob into its command line.
type ExternalCompiler struct {
	Tool    string // build-tool binary, e.g. "kernel-build"
	OutRoot string
	Runner  Runner
}

func (c *ExternalCompiler) Compile(ctx context.Context, job *CompileJob) (string, error) {
	outDir := filepath.Join(c.OutRoot, "work", job.Variant.Name(), job.Kernel)
	args := c.args(job, outDir)
	if _, err := c.Runner.Run(ctx, c.Tool, args...); err != nil {
		return "", fmt.Errorf("build of %s/%s: %w", job.Kernel, job.Variant.Name(), err)
	}
	return outDir, nil
}

func (c *ExternalCompiler) args(job *CompileJob, outDir string) []string {
	args := []string{
		"--name", job.Kernel,
		"--out", outDir,
		"--backend", string(job.Variant.Backend),
		"--threads", fmt.Sprintf("%d", job.Threads),
		"--cc", job.Toolchain.CC,
		"--cxx", job.Toolchain.CXX,
		"--linker", job.Toolchain.Linker,
	}
	if len(job.ArchList) > 0 {
		args = append(args, "--archs", strings.Join(job.ArchList, ";"))
	}
	for _, inc := range job.Includes {
		args = append(args, "--include", inc)
	}
	for _, flag := range job.Toolchain.ExtraLDFlags {
		args = append(args, "--ldflag", flag)
	}
	defines := make([]string, 0, len(job.Defines))
	for k, v := range job.Defines {
		defines = append(defines, k+"="+v)
	}
	sort.Strings(defines)
	for _, d := range defines {
		args = append(args, "--define", d)
	}
	args = append(args, job.Sources...)
	return args
}
