package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/sym"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// sqliteDSN puts the pragmas in the DSN so every pooled connection gets them.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d", path, sep, SQLiteBusyTimeoutMS)
}

// Open opens a SQLite database at the specified path with WAL, foreign keys
// and a busy timeout. If logger is provided, logs database operations;
// otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}
	db, err := sql.Open(DialectSQLite.DriverName(), sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Writes are serialized by the coordinator; one connection avoids
	// SQLITE_BUSY and keeps :memory: databases on a single handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenPostgres opens a Postgres pool through the pgx database/sql driver.
func OpenPostgres(dsn string, cfg am.DatabaseConfig, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open(DialectPostgres.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to connect to postgres"),
			"check database.dsn or REQSYNC_DATABASE_DSN",
		)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"driver", "postgres",
			"symbol", sym.DB,
			"max_open_conns", cfg.MaxOpenConns,
		)
	}
	return db, nil
}

// OpenFromConfig opens the configured backend.
func OpenFromConfig(cfg am.DatabaseConfig, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case DialectPostgres:
		if cfg.DSN == "" {
			return nil, "", errors.WithHint(errors.New("database.dsn is required for postgres"),
				"set database.dsn in reqsync.toml or REQSYNC_DATABASE_DSN")
		}
		db, err = OpenPostgres(cfg.DSN, cfg, logger)
	default:
		path := cfg.Path
		if path == "" {
			path = am.DefaultDatabasePath
		}
		db, err = Open(path, logger)
	}
	if err != nil {
		return nil, "", err
	}
	return db, dialect, nil
}

// OpenWithMigrations opens the configured backend and applies pending
// migrations.
func OpenWithMigrations(cfg am.DatabaseConfig, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	db, dialect, err := OpenFromConfig(cfg, logger)
	if err != nil {
		return nil, "", errors.Wrap(err, "open database")
	}
	if err := Migrate(db, dialect, logger); err != nil {
		db.Close()
		return nil, "", errors.Wrap(err, "migrate database")
	}
	return db, dialect, nil
}
