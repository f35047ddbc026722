package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/teranos/pulsestore/db"
)

// CreateTestHandle opens a migrated SQLite database in a temp file and wraps
// it in a db.Handle. A file is used rather than :memory: so that a reconnect
// sees the same data. Automatically registers cleanup via t.Cleanup().
func CreateTestHandle(t *testing.T) *db.Handle {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pulsestore.db")
	h, err := db.Connect(path, db.DefaultOptions(), zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		h.Close()
	})

	return h
}

// CreateTestDB returns the pool of a fresh CreateTestHandle.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return CreateTestHandle(t).DB()
}
