package toolchain

import (
	"fmt"
	"path/filepath"
)

// Legacy-glibc bootstrap.
//
// Pairing a modern compiler's prebuilt runtime-support library with an
// old glibc produces symbol-version mismatches at link or load time, so
// the final toolchain is assembled in three stages. Each stage function
// takes only the outputs of the previous stage; the dependency order is
// fixed by the signatures and cannot recurse.

// stage1Result is an intermediate toolchain: the pinned compiler
// front-end paired with the old glibc, still carrying the build host's
// runtime-support library.
type stage1Result struct {
	CC             string
	CXX            string
	Linker         string
	GlibcRoot      string
	GlibcVersion   string
	HostCompilerRT string // not ABI-safe against GlibcRoot; replaced in stage 2
}

// stage2Result is the runtime-support library rebuilt with the stage-1
// toolchain, so it is linked against the old glibc.
type stage2Result struct {
	CompilerRT        string
	BuiltAgainstGlibc string
}

// bootstrapStage1 lays out the intermediate toolchain from the pinned
// glibc and compiler revisions. The host compiler is required to build
// it, so discovery failures surface here.
func bootstrapStage1(store string, loc Locator, pins Pins) (stage1Result, error) {
	hostRT, err := loc.Look("gcc")
	if err != nil {
		return stage1Result{}, fmt.Errorf("bootstrap stage 1: %w", err)
	}

	glibcRoot := filepath.Join(store, pins.Glibc.id())
	root := filepath.Join(store, pins.GCC.id()+"-glibc"+pins.Glibc.Version+"-stage1")
	return stage1Result{
		CC:             filepath.Join(root, "bin", "gcc"),
		CXX:            filepath.Join(root, "bin", "g++"),
		Linker:         filepath.Join(root, "bin", "ld"),
		GlibcRoot:      glibcRoot,
		GlibcVersion:   pins.Glibc.Version,
		HostCompilerRT: hostRT,
	}, nil
}

// bootstrapStage2 rebuilds the runtime-support library with the stage-1
// toolchain. Only stage-1 outputs go in: the rebuilt library must depend
// on the old glibc and nothing from the build host.
func bootstrapStage2(s1 stage1Result) stage2Result {
	return stage2Result{
		CompilerRT:        filepath.Join(filepath.Dir(filepath.Dir(s1.CC)), "rt", "libgcc"),
		BuiltAgainstGlibc: s1.GlibcVersion,
	}
}

// bootstrapStage3 assembles the final toolchain: old glibc, stage-2
// runtime-support library, and the compiler front-end rebuilt against
// stage 1.
func bootstrapStage3(store string, pins Pins, s1 stage1Result, s2 stage2Result) *Spec {
	root := filepath.Join(store, pins.GCC.id()+"-glibc"+pins.Glibc.Version)
	return &Spec{
		CC:     filepath.Join(root, "bin", "gcc"),
		CXX:    filepath.Join(root, "bin", "g++"),
		Linker: filepath.Join(root, "bin", "ld"),
		CompilerRT: RuntimeLib{
			Path:              s2.CompilerRT,
			BuiltAgainstGlibc: s2.BuiltAgainstGlibc,
		},
		GlibcVersion: s1.GlibcVersion,
		Env: map[string]string{
			"FORGE_SYSROOT": s1.GlibcRoot,
		},
	}
}

// bootstrap runs the full three-stage pipeline.
func bootstrap(store string, loc Locator, pins Pins) (*Spec, error) {
	s1, err := bootstrapStage1(store, loc, pins)
	if err != nil {
		return nil, err
	}
	s2 := bootstrapStage2(s1)
	return bootstrapStage3(store, pins, s1, s2), nil
}
