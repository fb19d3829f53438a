package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrFixup marks a portability fixup failure. Fatal: an artifact that
// cannot be made relocatable must not be published.
var ErrFixup = errors.New("portability fixup failed")

// fixupOutputs makes the built shared libraries relocatable. Distributable
// artifacts must not depend on build-time-only absolute paths; the
// strategy is per host OS:
//
//   - linux: the dynamic-library runtime search path is cleared.
//   - darwin: absolute build-environment install names are rewritten to
//     @rpath references, then a loader-relative search path is added
//     back.
//
// The OS set is closed; a new target OS must pick a strategy here.
func fixupOutputs(ctx context.Context, runner Runner, os, dir string) error {
	libs, err := sharedLibraries(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFixup, err)
	}
	for _, lib := range libs {
		switch os {
		case "linux":
			if _, err := runner.Run(ctx, "patchelf", "--remove-rpath", lib); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrFixup, lib, err)
			}
		case "darwin":
			if _, err := runner.Run(ctx, "install_name_tool", "-id", "@rpath/"+filepath.Base(lib), lib); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrFixup, lib, err)
			}
			if _, err := runner.Run(ctx, "install_name_tool", "-add_rpath", "@loader_path", lib); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrFixup, lib, err)
			}
		default:
			return fmt.Errorf("%w: no fixup strategy for OS %q", ErrFixup, os)
		}
	}
	return nil
}

// sharedLibraries lists the dynamic libraries under dir.
func sharedLibraries(dir string) ([]string, error) {
	var libs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".so") || strings.HasSuffix(path, ".dylib") {
			libs = append(libs, path)
		}
		return nil
	})
	return libs, err
}
