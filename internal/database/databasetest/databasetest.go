// Package databasetest provides a migrated SQLite database for tests.
package databasetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/kosumphisai/koshare/backend/internal/config"
	"github.com/kosumphisai/koshare/backend/internal/database"
)

// NewSQLite opens a fresh file-backed SQLite database under t.TempDir with
// all migrations applied. The database is closed when the test ends.
func NewSQLite(t testing.TB) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "koshare.db"),
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.MigrateUp(ctx, cfg); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
