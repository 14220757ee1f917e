// Package config holds the immutable per-family governance configuration:
// allowed kinds, defaults, admission rules and lookup bounds. A snapshot is
// built once at startup and passed explicitly into the core; nothing in the
// core reads ambient state.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/scope"
)

// LimitRule caps how many existing records may match its scope before a
// create is rejected.
type LimitRule struct {
	Scope scope.Spec `yaml:"scope" json:"scope"`
	Limit uint       `yaml:"limit" json:"limit"`
}

// UniquenessRule rejects a create when an existing record matches the new
// record on every listed scalar field within the scope. Array-valued fields
// are excluded from the equality test; the scope may still test array
// membership through owners/audience sets.
type UniquenessRule struct {
	Fields []string    `yaml:"fields" json:"fields"`
	Scope  *scope.Spec `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// IdempotencyRule redirects a create to an existing record when that record
// agrees on every listed field. Array fields compare as unordered sets,
// instants by exact value.
type IdempotencyRule struct {
	Fields []string    `yaml:"fields" json:"fields"`
	Scope  *scope.Spec `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// RefConstraint validates reference values in a field at create time:
// they must parse and point into one of the allowed collections.
type RefConstraint struct {
	Field       string   `yaml:"field" json:"field"`
	Collections []string `yaml:"collections" json:"collections"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
}

// Kind carries per-kind overrides within a family.
type Kind struct {
	DefaultVisibility model.Visibility  `yaml:"defaultVisibility,omitempty"`
	AutoApprove       *bool             `yaml:"autoApprove,omitempty"`
	Uniqueness        []UniquenessRule  `yaml:"uniqueness,omitempty"`
	Idempotency       []IdempotencyRule `yaml:"idempotency,omitempty"`
	Limits            []LimitRule       `yaml:"limits,omitempty"`
}

// Family configures one record family (store collection).
type Family struct {
	// AllowedKinds restricts the kind tag; empty means unrestricted.
	AllowedKinds      []string          `yaml:"allowedKinds,omitempty"`
	DefaultVisibility model.Visibility  `yaml:"defaultVisibility,omitempty"`
	AutoApprove       bool              `yaml:"autoApprove,omitempty"`
	LinkageFields     []string          `yaml:"linkageFields,omitempty"`
	Uniqueness        []UniquenessRule  `yaml:"uniqueness,omitempty"`
	Idempotency       []IdempotencyRule `yaml:"idempotency,omitempty"`
	Limits            []LimitRule       `yaml:"limits,omitempty"`
	Refs              []RefConstraint   `yaml:"refs,omitempty"`
	Kinds             map[string]Kind   `yaml:"kinds,omitempty"`
}

// Config is the full snapshot.
type Config struct {
	Families       map[string]Family `yaml:"families"`
	MaxResultSize  int               `yaml:"maxResultSize,omitempty"`
	MaxLookupDepth int               `yaml:"maxLookupDepth,omitempty"`
}

const (
	defaultMaxResultSize  = 100
	defaultMaxLookupDepth = 8
)

// Load reads and validates a YAML snapshot.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a permissive snapshot (no families configured).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxResultSize <= 0 {
		c.MaxResultSize = defaultMaxResultSize
	}
	if c.MaxLookupDepth <= 0 {
		c.MaxLookupDepth = defaultMaxLookupDepth
	}
	if c.Families == nil {
		c.Families = map[string]Family{}
	}
}

// ResolvedLimit is a limit rule with its provenance: Kind is set when the
// rule came from a per-kind block and the count is then restricted to that
// kind; empty means the rule counts across the whole family.
type ResolvedLimit struct {
	LimitRule
	Kind string
}

// ResolvedUniqueness is a uniqueness rule with its provenance.
type ResolvedUniqueness struct {
	UniquenessRule
	Kind string
}

// ResolvedIdempotency is an idempotency rule with its provenance.
type ResolvedIdempotency struct {
	IdempotencyRule
	Kind string
}

// Resolved is the effective rule set for one (family, kind) pair:
// kind-specific settings override family-wide ones, except limits, where
// both levels apply (kind-specific rules first).
type Resolved struct {
	AllowedKinds  []string
	Visibility    model.Visibility
	AutoApprove   bool
	LinkageFields []string
	Uniqueness    []ResolvedUniqueness
	Idempotency   []ResolvedIdempotency
	Limits        []ResolvedLimit
	Refs          []RefConstraint
}

// Resolve computes the effective rules for a record of the given kind in
// the given family. An unconfigured family resolves to permissive defaults.
func (c *Config) Resolve(family, kind string) Resolved {
	fam := c.Families[family]
	res := Resolved{
		AllowedKinds:  fam.AllowedKinds,
		Visibility:    fam.DefaultVisibility,
		AutoApprove:   fam.AutoApprove,
		LinkageFields: fam.LinkageFields,
		Refs:          fam.Refs,
	}
	for _, u := range fam.Uniqueness {
		res.Uniqueness = append(res.Uniqueness, ResolvedUniqueness{UniquenessRule: u})
	}
	for _, i := range fam.Idempotency {
		res.Idempotency = append(res.Idempotency, ResolvedIdempotency{IdempotencyRule: i})
	}
	for _, l := range fam.Limits {
		res.Limits = append(res.Limits, ResolvedLimit{LimitRule: l})
	}
	if res.Visibility == "" {
		res.Visibility = model.Private
	}
	k, ok := fam.Kinds[kind]
	if !ok {
		return res
	}
	if k.DefaultVisibility != "" {
		res.Visibility = k.DefaultVisibility
	}
	if k.AutoApprove != nil {
		res.AutoApprove = *k.AutoApprove
	}
	if len(k.Uniqueness) > 0 {
		res.Uniqueness = res.Uniqueness[:0]
		for _, u := range k.Uniqueness {
			res.Uniqueness = append(res.Uniqueness, ResolvedUniqueness{UniquenessRule: u, Kind: kind})
		}
	}
	if len(k.Idempotency) > 0 {
		res.Idempotency = res.Idempotency[:0]
		for _, i := range k.Idempotency {
			res.Idempotency = append(res.Idempotency, ResolvedIdempotency{IdempotencyRule: i, Kind: kind})
		}
	}
	if len(k.Limits) > 0 {
		kindLimits := make([]ResolvedLimit, 0, len(k.Limits)+len(res.Limits))
		for _, l := range k.Limits {
			kindLimits = append(kindLimits, ResolvedLimit{LimitRule: l, Kind: kind})
		}
		res.Limits = append(kindLimits, res.Limits...)
	}
	return res
}

// KindAllowed checks the kind tag against the allow-list; an empty list
// leaves the family unrestricted.
func (r Resolved) KindAllowed(kind string) bool {
	if len(r.AllowedKinds) == 0 {
		return true
	}
	for _, k := range r.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}
