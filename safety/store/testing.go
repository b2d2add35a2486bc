package store

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Opens a fresh, migrated store backed by a sqlite file in a per-test temporary directory. Intended for use in test code in this and other packages.
func TestStore(t testing.TB) *Store {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sentinel-test.sqlite")
	db, err := gorm.Open(sqlite.Open(p), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	sqldb, err := db.DB()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })
	s := New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return s
}
