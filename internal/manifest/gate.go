package manifest

import (
	"github.com/tensorkit/forge/internal/catalog"
)

// ApplicableVariants filters the catalog down to the variants a kernel
// must be built for on one target system.
//
// Universal kernels have no backend-specific compiled code, so a single
// representative build per target system suffices, independent of the
// backend and version axes. An upstream entry stands in when one exists,
// so the default upstream-only build path never skips the sole universal
// build. Otherwise a variant applies iff its backend is declared by at
// least one sub-kernel.
func ApplicableVariants(m *Manifest, cat *catalog.Catalog, target catalog.Target) ([]catalog.Variant, error) {
	all := cat.All(target)

	if m.General.Universal {
		if len(all) == 0 {
			return nil, m.fail("no catalog variants for target system %s", target)
		}
		rep := all[0]
		for _, v := range all {
			if v.Upstream {
				rep = v
				break
			}
		}
		return []catalog.Variant{rep}, nil
	}

	// validate() already rejects manifests with no sub-kernels, but the
	// gate is also reachable with hand-built manifests.
	if len(m.Kernels) == 0 {
		return nil, m.fail("no backend-specific sub-kernels and universal flag unset")
	}

	var out []catalog.Variant
	for _, v := range all {
		if m.DeclaresBackend(v.Backend) {
			out = append(out, v)
		}
	}
	return out, nil
}
