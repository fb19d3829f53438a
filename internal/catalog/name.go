package catalog

import (
	"fmt"
	"strings"
)

// UniversalName is the pseudo-variant directory used for kernels with no
// backend-specific compiled code.
const UniversalName = "torch-universal"

// Name returns the canonical variant identifier, e.g.
// "torch28-cxx11-cu126-x86_64-linux" or "torch27-metal-aarch64-darwin".
// External loaders parse this string back into compatibility
// requirements; the format is a wire contract.
func (v Variant) Name() string {
	var b strings.Builder
	b.WriteString("torch")
	b.WriteString(v.Torch.Flatten())
	if v.Backend == BackendMetal {
		// Metal has no ABI or backend-version segment.
		b.WriteString("-metal-")
		b.WriteString(v.Target.String())
		return b.String()
	}
	b.WriteByte('-')
	b.WriteString(string(v.ABI))
	b.WriteByte('-')
	b.WriteString(v.Backend.versionTag(v.BackendVersion))
	b.WriteByte('-')
	b.WriteString(v.Target.String())
	return b.String()
}

// Bucket groups a variant for matrix reports: one row per host-framework
// version and backend, columns across backend versions.
type Bucket struct {
	Torch   string
	Backend Backend
}

func (v Variant) Bucket() Bucket {
	return Bucket{Torch: v.Torch.String(), Backend: v.Backend}
}

// NameInfo is the loader-side decomposition of a variant name. Fields are
// the raw name segments, not parsed versions: the flattening applied when
// naming is not invertible ("210" could be 2.10 or 21.0), so consumers
// match segments against candidate variants instead.
type NameInfo struct {
	Universal bool
	TorchTag  string // "torch28"
	ABI       string // "cxx11", "cxx98"; empty for metal and universal
	Framework string // "cu126", "rocm63", "xpu20", "cpu", "metal"
	Target    Target
}

// ParseName splits a canonical variant name into its segments. It accepts
// the universal pseudo-name, the metal shape (4 segments), and the full
// shape (5 segments).
func ParseName(name string) (NameInfo, error) {
	if name == UniversalName {
		return NameInfo{Universal: true}, nil
	}
	parts := strings.Split(name, "-")
	if len(parts) < 4 || !strings.HasPrefix(parts[0], "torch") {
		return NameInfo{}, fmt.Errorf("invalid variant name %q", name)
	}
	switch {
	case len(parts) == 4 && parts[1] == "metal":
		target, err := ParseTarget(parts[2] + "-" + parts[3])
		if err != nil {
			return NameInfo{}, fmt.Errorf("invalid variant name %q: %w", name, err)
		}
		return NameInfo{TorchTag: parts[0], Framework: "metal", Target: target}, nil
	case len(parts) == 5:
		if _, err := ParseCxxABI(parts[1]); err != nil {
			return NameInfo{}, fmt.Errorf("invalid variant name %q: %w", name, err)
		}
		target, err := ParseTarget(parts[3] + "-" + parts[4])
		if err != nil {
			return NameInfo{}, fmt.Errorf("invalid variant name %q: %w", name, err)
		}
		return NameInfo{TorchTag: parts[0], ABI: parts[1], Framework: parts[2], Target: target}, nil
	}
	return NameInfo{}, fmt.Errorf("invalid variant name %q", name)
}
