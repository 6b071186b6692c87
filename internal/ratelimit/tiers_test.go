package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTiers_ResolvesWithDefaults(t *testing.T) {
	fallback := Quota{Capacity: 60, RefillPerSecond: 1}
	tiers, err := NewTiers(fallback, map[string]Tier{
		"basic": {
			Quota: Quota{Capacity: 120},
			Classes: map[string]Quota{
				"write": {Capacity: 20},
				"bulk":  {RefillPerSecond: 0.1},
			},
		},
		"premium": {Quota: Quota{Capacity: 600, RefillPerSecond: 20}},
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		tier     string
		class    string
		expected Quota
	}{
		{name: "unknown tier uses default", tier: "free", class: "read", expected: fallback},
		{name: "tier fills refill from default", tier: "basic", class: "read", expected: Quota{Capacity: 120, RefillPerSecond: 1}},
		{name: "class override inherits tier refill", tier: "basic", class: "write", expected: Quota{Capacity: 20, RefillPerSecond: 1}},
		{name: "class override inherits tier capacity", tier: "basic", class: "bulk", expected: Quota{Capacity: 120, RefillPerSecond: 0.1}},
		{name: "tier without classes", tier: "premium", class: "write", expected: Quota{Capacity: 600, RefillPerSecond: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tiers.Resolve(tt.tier, tt.class))
		})
	}

	assert.Equal(t, []string{"basic", "premium"}, tiers.Names())
}

func TestNewTiers_DoesNotMutateInput(t *testing.T) {
	input := map[string]Tier{
		"basic": {Quota: Quota{Capacity: 5}},
	}
	_, err := NewTiers(Quota{Capacity: 1, RefillPerSecond: 2}, input)
	require.NoError(t, err)

	assert.Equal(t, 0.0, input["basic"].RefillPerSecond)
}

func TestNewTiers_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		fallback Quota
		tiers    map[string]Tier
	}{
		{name: "zero default capacity", fallback: Quota{RefillPerSecond: 1}},
		{name: "zero default rate", fallback: Quota{Capacity: 1}},
		{
			name:     "negative tier rate",
			fallback: Quota{Capacity: 1, RefillPerSecond: 1},
			tiers:    map[string]Tier{"x": {Quota: Quota{RefillPerSecond: -1}}},
		},
		{
			name:     "negative class capacity",
			fallback: Quota{Capacity: 1, RefillPerSecond: 1},
			tiers: map[string]Tier{"x": {Classes: map[string]Quota{
				"write": {Capacity: -4},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTiers(tt.fallback, tt.tiers)
			assert.Error(t, err)
		})
	}
}
