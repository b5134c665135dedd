package commands

import (
	"database/sql"
	"fmt"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/db"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/requisition/storage"
)

// openStore opens and migrates the configured database. dbPath, when set,
// overrides database.path for SQLite.
func openStore(cfg *am.Config, dbPath string) (*sql.DB, *storage.SQLStore, error) {
	dbCfg := cfg.Database
	if dbPath != "" {
		dbCfg.Path = dbPath
	}

	conn, dialect, err := db.OpenWithMigrations(dbCfg, logger.ComponentLogger("db"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	return conn, storage.NewSQLStore(conn, dialect), nil
}

// describeDatabase names the backend for banners without leaking a DSN
func describeDatabase(cfg am.DatabaseConfig, dbPath string) string {
	dialect, err := db.ParseDialect(cfg.Driver)
	if err == nil && dialect == db.DialectPostgres {
		return "postgres"
	}
	path := dbPath
	if path == "" {
		path = cfg.Path
	}
	if path == "" {
		path = am.DefaultDatabasePath
	}
	return fmt.Sprintf("sqlite %s", path)
}
