package storage

import (
	"context"
	"fmt"
	"time"

	"apicore/internal/models"
)

var (
	seedNames      = []string{"Anchor", "Beacon", "Compass", "Drift", "Ember", "Falcon", "Glacier", "Harbor", "Iris", "Juniper"}
	seedCategories = []string{"tools", "books", "garden", "kitchen"}
	seedTags       = []string{"new", "sale", "popular", "limited"}
)

// Seed fills an empty store with n generated demo items. It does nothing
// when the store already holds items.
func Seed(ctx context.Context, items Items, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	count, err := items.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		item := models.Item{
			Name:      fmt.Sprintf("%s %03d", seedNames[i%len(seedNames)], i+1),
			Category:  seedCategories[i%len(seedCategories)],
			Tags:      []string{seedTags[i%len(seedTags)]},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := items.Save(ctx, &item); err != nil {
			return i, fmt.Errorf("seed item %d: %w", i+1, err)
		}
	}
	return n, nil
}
