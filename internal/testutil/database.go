package testutil

import (
	"testing"

	"gorm.io/gorm"

	"medremind/internal/store"
)

// NewTestDatabase returns a migrated in-memory sqlite database that is
// closed when the test ends.
func NewTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}
