// Package testutil opens throwaway stores for package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Napageneral/memsync/internal/db"
	"github.com/Napageneral/memsync/internal/store"
)

// OpenTestDB opens a fresh schema-initialized SQLite database under t.TempDir.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "memsync.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// OpenTestStore wraps OpenTestDB in a Store.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(OpenTestDB(t))
}
