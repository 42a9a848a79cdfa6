package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog is an immutable in-memory policy set keyed by normalized number.
type Catalog struct {
	byNumber map[string]Policy
}

// NewCatalog validates every policy and rejects a number claimed twice.
func NewCatalog(policies ...Policy) (*Catalog, error) {
	c := &Catalog{byNumber: make(map[string]Policy, len(policies))}
	var errs []error
	for _, p := range policies {
		p = p.WithDefaults()
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		n := NormalizeNumber(p.Number)
		if prev, ok := c.byNumber[n]; ok {
			if prev.TenantID == p.TenantID {
				errs = append(errs, fmt.Errorf("%w: duplicate policy for %s/%s", ErrInvalidPolicy, p.TenantID, p.Number))
			} else {
				errs = append(errs, fmt.Errorf("%w: %s claimed by %s and %s", ErrNumberConflict, p.Number, prev.TenantID, p.TenantID))
			}
			continue
		}
		c.byNumber[n] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// catalogFile is the on-disk YAML shape. An entry may list several numbers
// sharing one configuration.
type catalogFile struct {
	Policies []catalogEntry `yaml:"policies"`
}

type catalogEntry struct {
	Policy  `yaml:",inline"`
	Numbers []string `yaml:"numbers,omitempty"`
}

// ParseCatalog decodes a YAML policy file.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty policy file", ErrInvalidPolicy)
		}
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidPolicy, err)
	}

	var policies []Policy
	for _, e := range f.Policies {
		if len(e.Numbers) == 0 {
			policies = append(policies, e.Policy)
			continue
		}
		for _, n := range e.Numbers {
			p := e.Policy
			p.Number = n
			policies = append(policies, p)
		}
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: no policies defined", ErrInvalidPolicy)
	}
	return NewCatalog(policies...)
}

// LoadCatalogFile reads and validates a YAML policy file.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

func (c *Catalog) Resolve(_ context.Context, tenantID, toNumber string) (Policy, error) {
	p, ok := c.byNumber[NormalizeNumber(toNumber)]
	if !ok || tenantID == "" || p.TenantID != tenantID {
		return Policy{}, ErrPolicyNotFound
	}
	p.TransferTargets = p.cloneTargets()
	return p, nil
}

func (c *Catalog) TenantForNumber(_ context.Context, toNumber string) (string, error) {
	p, ok := c.byNumber[NormalizeNumber(toNumber)]
	if !ok {
		return "", ErrPolicyNotFound
	}
	return p.TenantID, nil
}

// Policies returns every policy ordered by tenant then number.
func (c *Catalog) Policies() []Policy {
	out := make([]Policy, 0, len(c.byNumber))
	for _, p := range c.byNumber {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return NormalizeNumber(out[i].Number) < NormalizeNumber(out[j].Number)
	})
	return out
}
