package ratelimit

import (
	"fmt"
	"sort"

	"dario.cat/mergo"
)

// Tier is the quota of a subject tier with optional per endpoint class
// overrides.
type Tier struct {
	Quota   `yaml:",inline"`
	Classes map[string]Quota `yaml:"classes"`
}

// Tiers is the resolved quota table. It is built once from configuration
// and only read afterwards, so Resolve is safe for concurrent use.
type Tiers struct {
	fallback Quota
	table    map[string]map[string]Quota
	base     map[string]Quota
}

// NewTiers fills every unset field of a tier from fallback and every unset
// field of a class override from its tier, then validates the result.
func NewTiers(fallback Quota, tiers map[string]Tier) (*Tiers, error) {
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default quota: %w", err)
	}

	t := &Tiers{
		fallback: fallback,
		table:    make(map[string]map[string]Quota, len(tiers)),
		base:     make(map[string]Quota, len(tiers)),
	}
	for name, tier := range tiers {
		base := tier.Quota
		if err := mergo.Merge(&base, fallback); err != nil {
			return nil, fmt.Errorf("tier %s: %w", name, err)
		}
		if err := base.Validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", name, err)
		}
		t.base[name] = base

		classes := make(map[string]Quota, len(tier.Classes))
		for class, q := range tier.Classes {
			if err := mergo.Merge(&q, base); err != nil {
				return nil, fmt.Errorf("tier %s class %s: %w", name, class, err)
			}
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("tier %s class %s: %w", name, class, err)
			}
			classes[class] = q
		}
		t.table[name] = classes
	}
	return t, nil
}

// Resolve returns the quota for tier and endpoint class. Unknown tiers use
// the default quota; unknown classes use the tier quota.
func (t *Tiers) Resolve(tier, class string) Quota {
	base, ok := t.base[tier]
	if !ok {
		return t.fallback
	}
	if q, ok := t.table[tier][class]; ok {
		return q
	}
	return base
}

// Names lists the configured tiers in sorted order.
func (t *Tiers) Names() []string {
	names := make([]string, 0, len(t.base))
	for name := range t.base {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
