// Package catalog holds the static build matrix: every supported
// combination of host-framework version, compute backend, backend
// version, C++ ABI and target system, together with the canonical
// variant-naming scheme derived from it.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed build_variants.yaml
var defaultCatalog []byte

var (
	ErrDuplicateEntry = errors.New("duplicate matrix point")
	ErrNameCollision  = errors.New("variant name collision")
)

// entry is the on-disk shape of one catalog row. One row fans out to one
// Variant per listed target system.
type entry struct {
	Torch    string   `yaml:"torch"`
	Backend  string   `yaml:"backend"`
	Version  string   `yaml:"version,omitempty"`
	ABI      string   `yaml:"abi,omitempty"`
	Targets  []string `yaml:"targets"`
	Upstream *bool    `yaml:"upstream,omitempty"` // default true
}

type catalogFile struct {
	Entries []entry `yaml:"entries"`
}

// Catalog is the loaded, validated build matrix.
type Catalog struct {
	variants []Variant
	byName   map[string]Variant
}

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog override from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog. All malformed entries, duplicate
// matrix points and name collisions fail here, at load time.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	dec := yaml.Unmarshal(data, &file)
	if dec != nil {
		return nil, dec
	}
	if len(file.Entries) == 0 {
		return nil, fmt.Errorf("catalog has no entries")
	}

	c := &Catalog{byName: make(map[string]Variant)}
	for i, e := range file.Entries {
		variants, err := e.expand()
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		for _, v := range variants {
			// Catalogs stay small; a linear scan lets versions compare by
			// normalized components instead of their on-disk spelling.
			for _, prev := range c.variants {
				if prev.sameMatrixPoint(v) {
					return nil, fmt.Errorf("catalog entry %d: %w: %s", i, ErrDuplicateEntry, v.key())
				}
			}

			name := v.Name()
			if prev, dup := c.byName[name]; dup {
				return nil, fmt.Errorf("catalog entry %d: %w: %q produced by both %s and %s",
					i, ErrNameCollision, name, prev.key(), v.key())
			}
			c.byName[name] = v
			c.variants = append(c.variants, v)
		}
	}
	return c, nil
}

func (e entry) expand() ([]Variant, error) {
	torch, err := ParseVersion(e.Torch)
	if err != nil {
		return nil, fmt.Errorf("torch: %w", err)
	}
	backend, err := ParseBackend(e.Backend)
	if err != nil {
		return nil, err
	}
	var bv Version
	if e.Version != "" {
		if bv, err = ParseVersion(e.Version); err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
	}
	upstream := true
	if e.Upstream != nil {
		upstream = *e.Upstream
	}
	if len(e.Targets) == 0 {
		return nil, fmt.Errorf("no target systems")
	}

	var out []Variant
	for _, ts := range e.Targets {
		target, err := ParseTarget(ts)
		if err != nil {
			return nil, err
		}
		v := Variant{
			Torch:          torch,
			Backend:        backend,
			BackendVersion: bv,
			ABI:            CxxABI(e.ABI),
			Target:         target,
			Upstream:       upstream,
		}
		if err := v.validate(); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// All returns every variant valid for the target system.
func (c *Catalog) All(t Target) []Variant {
	var out []Variant
	for _, v := range c.variants {
		if v.Target == t {
			out = append(out, v)
		}
	}
	return out
}

// Upstream returns the variants included in distributable bundles.
func (c *Catalog) Upstream(t Target) []Variant {
	var out []Variant
	for _, v := range c.All(t) {
		if v.Upstream {
			out = append(out, v)
		}
	}
	return out
}

// Variants returns every catalog entry, all targets included.
func (c *Catalog) Variants() []Variant {
	out := make([]Variant, len(c.variants))
	copy(out, c.variants)
	return out
}

// Targets returns the distinct target systems in the catalog, sorted.
func (c *Catalog) Targets() []Target {
	seen := make(map[Target]struct{})
	var out []Target
	for _, v := range c.variants {
		if _, ok := seen[v.Target]; !ok {
			seen[v.Target] = struct{}{}
			out = append(out, v.Target)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ByName looks a variant up by its canonical name.
func (c *Catalog) ByName(name string) (Variant, bool) {
	v, ok := c.byName[name]
	return v, ok
}
