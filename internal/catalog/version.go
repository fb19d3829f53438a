package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted numeric version ("2.7", "12.6.2"). It is not
// semver: host-framework and backend SDK versions are plain
// major[.minor[.patch]] strings, and variant names flatten them with a
// rule downstream loaders parse back, so the original string is kept.
type Version struct {
	raw   string
	parts []int
}

func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	fields := strings.Split(s, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		parts = append(parts, n)
	}
	return Version{raw: s, parts: parts}, nil
}

// MustVersion is a test and table-literal helper; it panics on a
// malformed version.
func MustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string { return v.raw }

func (v Version) IsZero() bool { return v.raw == "" }

// Major returns the leading component.
func (v Version) Major() int {
	if len(v.parts) == 0 {
		return 0
	}
	return v.parts[0]
}

// Minor returns the second component, or 0 when absent.
func (v Version) Minor() int {
	if len(v.parts) < 2 {
		return 0
	}
	return v.parts[1]
}

// Flatten renders the version as exactly two components with the
// separator stripped: "2.7" -> "27", "2.10" -> "210", "2" -> "20",
// "12.6.2" -> "126". This is the flattening downstream artifact loaders
// parse out of variant names; the exact rule is load-bearing and must
// not change.
func (v Version) Flatten() string {
	return strconv.Itoa(v.Major()) + strconv.Itoa(v.Minor())
}

// Equal compares by normalized components, so "2.7" == "2.7.0".
func (v Version) Equal(o Version) bool {
	n := len(v.parts)
	if len(o.parts) > n {
		n = len(o.parts)
	}
	at := func(p []int, i int) int {
		if i < len(p) {
			return p[i]
		}
		return 0
	}
	for i := 0; i < n; i++ {
		if at(v.parts, i) != at(o.parts, i) {
			return false
		}
	}
	return true
}
