package storage

import (
	"context"
	"time"

	"apicore/internal/models"
	"apicore/internal/pagination"
)

// Items is the ordered query executor behind the item collection. It can be
// implemented by in-memory, file and SQL backends.
type Items interface {
	// Fetch returns up to q.Limit items ordered by q.Order, strictly after
	// q.After when it is set.
	pagination.Executor[models.Item]

	// Get retrieves an item by ID. It returns ErrNotFound when absent.
	Get(ctx context.Context, id int64) (models.Item, error)

	// Save inserts or replaces an item. A zero ID is assigned by the backend
	// and written back into item.
	Save(ctx context.Context, item *models.Item) error

	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	// CacheTTL controls how long the json backend trusts its in-memory copy
	// before checking the file again.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// QueryTimeout bounds every query. Zero leaves queries bounded only by
	// the caller's context.
	QueryTimeout time.Duration `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty"`
}

// ItemSchema lists the sortable item fields. The ID is the tie-break.
var ItemSchema = pagination.Schema{
	Fields: map[string]pagination.Kind{
		"id":         pagination.KindInt,
		"name":       pagination.KindString,
		"category":   pagination.KindString,
		"created_at": pagination.KindTime,
	},
	TieBreak: "id",
	Default:  []pagination.SortField{{Name: "id"}},
}

// ItemKey returns the sort key of item under order.
func ItemKey(item models.Item, order pagination.Order) []any {
	values := make([]any, len(order))
	for i, f := range order {
		switch f.Name {
		case "id":
			values[i] = item.ID
		case "name":
			values[i] = item.Name
		case "category":
			values[i] = item.Category
		case "created_at":
			values[i] = item.CreatedAt
		}
	}
	return values
}
