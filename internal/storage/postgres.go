package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresItems opens a PostgreSQL item store through the pgx
// database/sql driver and applies pending migrations.
func NewPostgresItems(ctx context.Context, config Config) (*SQLItems, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	db, err := sql.Open("pgx", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db, config)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db, postgresDialect); err != nil {
		db.Close()
		return nil, err
	}

	return newSQLItems(db, postgresDialect, config.QueryTimeout), nil
}
