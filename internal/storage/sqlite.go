package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLiteItems opens a SQLite item store and applies pending migrations.
func NewSQLiteItems(ctx context.Context, config Config) (*SQLItems, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db, sqliteDialect); err != nil {
		db.Close()
		return nil, err
	}

	// SQLite serialises writers. Keeping one open connection also keeps
	// shared in-memory databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return newSQLItems(db, sqliteDialect, config.QueryTimeout), nil
}
