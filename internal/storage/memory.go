package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"apicore/internal/models"
	"apicore/internal/pagination"
)

// MemoryItems implements the Items interface using in-memory data structures.
// This provider is ideal for development and testing. Data is lost on restart.
type MemoryItems struct {
	mu     sync.RWMutex
	items  map[int64]models.Item
	nextID int64
}

// NewMemoryItems creates a new memory-based item store
func NewMemoryItems(config Config) (*MemoryItems, error) {
	return &MemoryItems{
		items:  make(map[int64]models.Item),
		nextID: 1,
	}, nil
}

// Fetch implements pagination.Executor.
func (m *MemoryItems) Fetch(ctx context.Context, q pagination.Query) ([]models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	all := make([]models.Item, 0, len(m.items))
	for _, item := range m.items {
		all = append(all, copyItem(item))
	}
	m.mu.RUnlock()

	return selectPage(all, q), nil
}

// Get retrieves an item by ID
func (m *MemoryItems) Get(ctx context.Context, id int64) (models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, exists := m.items[id]
	if !exists {
		return models.Item{}, ErrNotFound
	}
	return copyItem(item), nil
}

// Save stores or updates an item
func (m *MemoryItems) Save(ctx context.Context, item *models.Item) error {
	item.Normalize()
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if item.ID == 0 {
		item.ID = m.nextID
	}
	if item.ID >= m.nextID {
		m.nextID = item.ID + 1
	}

	// Store a copy to prevent external modification
	m.items[item.ID] = copyItem(*item)
	return nil
}

// Count returns the number of stored items
func (m *MemoryItems) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// Ping always succeeds for memory storage
func (m *MemoryItems) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryItems) Close() error {
	return nil
}

func copyItem(item models.Item) models.Item {
	item.Tags = slices.Clone(item.Tags)
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item
}

// selectPage sorts items by q.Order, drops everything up to and including
// q.After and truncates to q.Limit.
func selectPage(items []models.Item, q pagination.Query) []models.Item {
	slices.SortFunc(items, func(a, b models.Item) int {
		return pagination.CompareKeys(q.Order, ItemKey(a, q.Order), ItemKey(b, q.Order))
	})

	start := 0
	if q.After != nil {
		start = len(items)
		for i, item := range items {
			if pagination.CompareKeys(q.Order, ItemKey(item, q.Order), q.After) > 0 {
				start = i
				break
			}
		}
	}

	page := items[start:]
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
	}
	return page
}
