// Package catalog holds the document types a lead can be asked for.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Condition gates a conditional entry on one form field value.
type Condition struct {
	Field  string `yaml:"field"`
	Equals string `yaml:"equals"`
}

type conditionalEntry struct {
	domain.DocumentRequirement `yaml:",inline"`
	When                       Condition `yaml:"when"`
}

type file struct {
	Base        []domain.DocumentRequirement `yaml:"base"`
	Conditional []conditionalEntry           `yaml:"conditional"`
}

// Catalog is an immutable, ordered document registry.
type Catalog struct {
	base        []domain.DocumentRequirement
	conditional []conditionalEntry
	byKey       map[string]domain.DocumentRequirement
}

// Parse builds a Catalog from YAML. Keys must be unique and non-empty.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		base:        f.Base,
		conditional: f.Conditional,
		byKey:       make(map[string]domain.DocumentRequirement),
	}

	add := func(r domain.DocumentRequirement) error {
		if r.Key == "" || r.Label == "" {
			return fmt.Errorf("catalog entry needs key and label: %+v", r)
		}
		if _, dup := c.byKey[r.Key]; dup {
			return fmt.Errorf("duplicate catalog key %q", r.Key)
		}
		c.byKey[r.Key] = r
		return nil
	}

	for _, r := range f.Base {
		if err := add(r); err != nil {
			return nil, err
		}
	}
	for _, e := range f.Conditional {
		if e.When.Field == "" {
			return nil, fmt.Errorf("conditional entry %q has no condition", e.Key)
		}
		if err := add(e.DocumentRequirement); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Required returns the base requirements followed by every conditional
// entry whose condition holds for form. The order is stable and drives
// both display and upload order.
func (c *Catalog) Required(form domain.FormState) []domain.DocumentRequirement {
	out := make([]domain.DocumentRequirement, 0, len(c.base)+len(c.conditional))
	out = append(out, c.base...)
	for _, e := range c.conditional {
		if form.Get(e.When.Field) == e.When.Equals {
			out = append(out, e.DocumentRequirement)
		}
	}
	return out
}

// Lookup finds a requirement by key, conditional entries included.
func (c *Catalog) Lookup(key string) (domain.DocumentRequirement, bool) {
	r, ok := c.byKey[key]
	return r, ok
}
