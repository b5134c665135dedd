// Package testing provides shared test fixtures.
package testing

import (
	"database/sql"
	"testing"

	"github.com/teranos/reqsync/db"
)

// CreateTestDB creates an in-memory SQLite database with every migration
// applied. Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	if err := db.Migrate(conn, db.DialectSQLite, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return conn
}
