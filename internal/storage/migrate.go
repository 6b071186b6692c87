package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Migrate applies the embedded migrations for d to db.
func Migrate(db *sql.DB, d dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	dir, err := fs.Sub(embedMigrations, "migrations/"+d.name)
	if err != nil {
		return fmt.Errorf("migration error locating %s migrations: %w", d.name, err)
	}

	goose.SetBaseFS(dir)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	gooseDialect := "pgx"
	if d.name == sqliteDialect.name {
		gooseDialect = "sqlite3"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("migration error setting dialect for db: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}
