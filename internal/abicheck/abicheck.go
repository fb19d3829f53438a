// Package abicheck invokes the external ABI compliance scanner against a
// built shared object and reports whether it only uses symbols available
// in the declared minimum system-library version.
package abicheck

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Violation is one symbol the artifact uses beyond the declared minimum.
type Violation struct {
	Symbol  string
	Version string
}

// Result of one check. Compatible is false when the artifact depends on
// symbols newer than the declared minimum; Violations lists them.
type Result struct {
	Compatible bool
	Violations []Violation
}

// Checker gates built artifacts. On the legacy-glibc path the gate is
// mandatory and a failure is fatal; otherwise callers downgrade it to a
// warning.
type Checker interface {
	Check(ctx context.Context, soPath, minGlibc string) (*Result, error)
}

// CLI shells out to the kernel-abi-check binary. Exit status 0 means
// compliant; exit status 1 means violations, one per line as
// "<symbol> <version>"; anything else is an invocation error. Some
// checker builds print diagnostics on stderr, so both streams are
// parsed. A Result may still carry zero Violations when the checker
// fails the gate without parseable output.
type CLI struct {
	Binary string
}

func (c *CLI) Check(ctx context.Context, soPath, minGlibc string) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Binary, "--glibc", minGlibc, soPath)
	out, err := cmd.Output()
	if err == nil {
		return &Result{Compatible: true}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		diagnostics := string(out) + "\n" + string(exitErr.Stderr)
		return &Result{Compatible: false, Violations: parseViolations(diagnostics)}, nil
	}
	return nil, fmt.Errorf("abi check of %s: %w", soPath, err)
}

func parseViolations(out string) []Violation {
	var vs []Violation
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		symbol, version, _ := strings.Cut(line, " ")
		vs = append(vs, Violation{Symbol: symbol, Version: version})
	}
	return vs
}
