package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/reqsync/am"
)

func TestOpen(t *testing.T) {
	t.Run("opens database successfully", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", sqliteDSN("a.db"))
	assert.Equal(t, "file:x?mode=memory&_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", sqliteDSN("file:x?mode=memory"))
}

func TestOpenFromConfig(t *testing.T) {
	t.Run("sqlite by default", func(t *testing.T) {
		cfg := am.DatabaseConfig{Path: filepath.Join(t.TempDir(), "cfg.db")}

		db, dialect, err := OpenWithMigrations(cfg, nil)
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, DialectSQLite, dialect)

		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM requisitions").Scan(&n))
		assert.Equal(t, 0, n)
	})

	t.Run("postgres requires a dsn", func(t *testing.T) {
		_, _, err := OpenFromConfig(am.DatabaseConfig{Driver: "postgres"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn")
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := OpenFromConfig(am.DatabaseConfig{Driver: "oracle"}, nil)
		require.Error(t, err)
	})
}

func TestDialect(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)
	assert.Equal(t, "?", d.Placeholder(3))
	assert.Equal(t, "sqlite3", d.DriverName())

	d, err = ParseDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)
	assert.Equal(t, "$3", d.Placeholder(3))
	assert.Equal(t, "pgx", d.DriverName())
}
