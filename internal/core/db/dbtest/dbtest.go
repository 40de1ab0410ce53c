// Package dbtest opens migrated SQLite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/donorhub/segmentd/internal/core/db"
)

// Open returns a fresh migrated in-memory database and its named queries.
// The database is closed when the test ends.
func Open(t testing.TB) (*sqlx.DB, *db.Queries) {
	t.Helper()
	return open(t, "sqlite://memory")
}

// OpenFile is Open backed by a file in a temporary directory, with the
// full connection pool.
func OpenFile(t testing.TB) (*sqlx.DB, *db.Queries) {
	t.Helper()
	return open(t, "sqlite://"+filepath.Join(t.TempDir(), "segmentd.db"))
}

func open(t testing.TB, url string) (*sqlx.DB, *db.Queries) {
	t.Helper()

	conn, err := db.Open(url)
	if err != nil {
		t.Fatalf("db.Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.MigrateUp(conn); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}

	queries, err := db.LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v, want nil", err)
	}
	return conn, queries
}
