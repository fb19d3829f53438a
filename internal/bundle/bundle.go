// Package bundle merges per-variant build outputs into the distributable
// output tree: one subdirectory per variant name, each holding the built
// libraries under the kernel's package name.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tensorkit/forge/internal/builder"
)

var (
	// ErrCollision means two build outputs map to the same variant name.
	// Fatal for the whole bundle: it indicates an upstream catalog
	// inconsistency that would corrupt the tree.
	ErrCollision = errors.New("variant name collision in bundle")

	// ErrPartial refuses to declare a bundle complete when a required
	// variant failed.
	ErrPartial = errors.New("required variant builds failed; refusing to produce a complete bundle")
)

// Tree is an assembled bundle.
type Tree struct {
	Root     string
	Variants []string
}

// FromReport extracts the outputs of a build report for assembly,
// refusing when the report is not complete. Distribution must never
// mistake best-effort output for full output.
func FromReport(r *builder.Report) ([]builder.BuildOutput, error) {
	if !r.Complete() {
		return nil, fmt.Errorf("%w: %d failed", ErrPartial, len(r.Failed()))
	}
	return r.Outputs(), nil
}

// Assemble copies each output under <dst>/<variantName>/<kernelName>/.
// Names are validated for collisions before anything is written, and the
// tree is staged next to dst and renamed into place, so a failed
// assembly leaves no partial output.
func Assemble(outputs []builder.BuildOutput, dst string) (*Tree, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no build outputs to assemble")
	}

	byName := make(map[string]builder.BuildOutput, len(outputs))
	for _, out := range outputs {
		name := out.Name()
		if prev, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: %q claimed by kernel %s (%s) and kernel %s (%s)",
				ErrCollision, name, prev.Kernel, prev.Dir, out.Kernel, out.Dir)
		}
		byName[name] = out
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(filepath.Dir(dst), ".bundle-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	tree := &Tree{Root: dst}
	for name, out := range byName {
		target := filepath.Join(staging, name, out.Kernel)
		if err := copyDir(out.Dir, target); err != nil {
			return nil, fmt.Errorf("assemble %s: %w", name, err)
		}
		tree.Variants = append(tree.Variants, name)
	}

	if err := os.RemoveAll(dst); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, dst); err != nil {
		return nil, err
	}
	return tree, nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
