package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteSchema string

// SQLiteStore keeps the snapshot in a single-row table of a local database file.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens the database file named by the DSN, with or without a "file:" prefix,
// creating its directory first.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN != "" {
		dir := filepath.Dir(sqliteFilePath(cfg.DSN))
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	// One connection serializes snapshot and application writes, avoiding SQLITE_BUSY.
	db, err := openDB(sqliteQueries.name, "sqlite3", cfg.DSN, sqliteSchema, func(db *sql.DB) {
		db.SetMaxOpenConns(1)
	})
	if err != nil {
		slog.Error("SQLiteStore unavailable", "error", err)
		return nil, err
	}
	slog.Info("SQLiteStore opened", "path", sqliteFilePath(cfg.DSN))
	return &SQLiteStore{sqlStore{db: db, q: sqliteQueries}}, nil
}

// sqliteFilePath strips the "file:" prefix and query parameters from a SQLite DSN.
func sqliteFilePath(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return path
}
