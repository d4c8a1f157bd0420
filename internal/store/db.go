package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appLog "medremind/internal/log"
	"medremind/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the local store. "sqlite" takes a file path or
// ":memory:"; "postgres" takes a DSN.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch driver {
	case DriverSQLite, "":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting sql handle: %w", err)
		}
		// One connection: keeps ":memory:" a single database and
		// serializes writers on the file.
		sqlDB.SetMaxOpenConns(1)
		return db, nil

	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("opening postgres database: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Migrate creates or updates the medication and intake tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Medication{}, &model.IntakeEvent{}); err != nil {
		return fmt.Errorf("auto-migrating: %w", err)
	}

	stmts := []string{
		`create index if not exists idx_intake_med_recorded on intake_events(medication_id, recorded_at)`,
		`create index if not exists idx_intake_unsynced on intake_events(synced, kind)`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	appLog.Debug("store migrated", "dialect", db.Dialector.Name())
	return nil
}
