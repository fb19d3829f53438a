package catalog

import "fmt"

// Backend identifies the compute framework a kernel or build variant
// targets. The set is closed; code switching over backends should handle
// every constant explicitly.
type Backend string

const (
	BackendCPU   Backend = "cpu"
	BackendCUDA  Backend = "cuda"
	BackendROCm  Backend = "rocm"
	BackendMetal Backend = "metal"
	BackendXPU   Backend = "xpu"
)

// Backends lists all known backends in canonical order.
func Backends() []Backend {
	return []Backend{BackendCPU, BackendCUDA, BackendROCm, BackendMetal, BackendXPU}
}

func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendCPU, BackendCUDA, BackendROCm, BackendMetal, BackendXPU:
		return Backend(s), nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

func (b Backend) String() string { return string(b) }

// RequiresVersion reports whether variants of this backend carry an
// independent backend version. Metal is tied to the OS release and CPU
// has no SDK of its own.
func (b Backend) RequiresVersion() bool {
	switch b {
	case BackendCUDA, BackendROCm, BackendXPU:
		return true
	case BackendCPU, BackendMetal:
		return false
	}
	return false
}

// HasCxxABI reports whether the C++ standard-library ABI axis applies.
// Metal builds are ABI-monolithic with the OS.
func (b Backend) HasCxxABI() bool {
	return b != BackendMetal
}

// versionTag returns the prefix used in variant names for versioned
// backends ("cu126", "rocm63", ...).
func (b Backend) versionTag(v Version) string {
	switch b {
	case BackendCUDA:
		return "cu" + v.Flatten()
	case BackendROCm:
		return "rocm" + v.Flatten()
	case BackendXPU:
		return "xpu" + v.Flatten()
	}
	return string(b)
}
