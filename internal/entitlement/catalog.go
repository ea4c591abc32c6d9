package entitlement

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Limit is a per-plan upload quota as written in the catalog file: a
// non-negative count or the word "unlimited".
type Limit struct {
	Max       int
	Unlimited bool
}

func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "unlimited" {
		*l = Limit{Unlimited: true}
		return nil
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("limit must be a count or \"unlimited\": %w", err)
	}
	if n < 0 {
		return fmt.Errorf("limit must not be negative, got %d", n)
	}
	*l = Limit{Max: n}
	return nil
}

// Catalog is the static feature catalog plus the plan upload limits. It is
// loaded once at startup and never mutated.
type Catalog struct {
	features map[string]FeatureConfig
	order    []string
	limits   map[Plan]map[MediaKind]Limit
}

type catalogFile struct {
	Features []FeatureConfig              `yaml:"features"`
	Limits   map[Plan]map[MediaKind]Limit `yaml:"limits"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feature catalog: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read feature catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog. RequiredPlan is derived
// as the lowest plan in AvailableIn.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feature catalog: %w", err)
	}

	c := &Catalog{
		features: make(map[string]FeatureConfig, len(file.Features)),
		limits:   make(map[Plan]map[MediaKind]Limit, len(file.Limits)),
	}
	for _, f := range file.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature catalog: entry without name")
		}
		if _, dup := c.features[f.Name]; dup {
			return nil, fmt.Errorf("feature catalog: duplicate feature %q", f.Name)
		}
		for _, p := range f.AvailableIn {
			if !p.Valid() {
				return nil, fmt.Errorf("feature catalog: %s lists unknown plan %q", f.Name, p)
			}
		}
		required, ok := f.AvailableIn.Lowest()
		if !ok {
			return nil, fmt.Errorf("feature catalog: %s is not available in any plan", f.Name)
		}
		f.RequiredPlan = required
		c.features[f.Name] = f
		c.order = append(c.order, f.Name)
	}

	for plan, kinds := range file.Limits {
		if !plan.Valid() {
			return nil, fmt.Errorf("feature catalog: limits for unknown plan %q", plan)
		}
		for kind := range kinds {
			if !kind.Valid() {
				return nil, fmt.Errorf("feature catalog: unknown media kind %q", kind)
			}
		}
		c.limits[plan] = kinds
	}
	return c, nil
}

// Lookup returns the catalog entry for name.
func (c *Catalog) Lookup(name string) (FeatureConfig, bool) {
	f, ok := c.features[name]
	return f, ok
}

// Features lists the catalog in file order.
func (c *Catalog) Features() []FeatureConfig {
	out := make([]FeatureConfig, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.features[name])
	}
	return out
}

// Limit returns the quota of kind for plan. Kinds missing from the file
// allow nothing.
func (c *Catalog) Limit(plan Plan, kind MediaKind) Limit {
	return c.limits[plan][kind]
}
