package store

import (
	"database/sql"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Connection pool limits for the PostgreSQL backend.
const (
	PostgresMaxOpenConns    = 4
	PostgresMaxIdleConns    = 2
	PostgresConnMaxLifetime = 10 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresSchema string

// PostgresStore keeps the snapshot in a JSONB row and applications in their own table.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to the DSN and creates the tables if needed.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	db, err := openDB(postgresQueries.name, "postgres", cfg.DSN, postgresSchema, func(db *sql.DB) {
		db.SetMaxOpenConns(PostgresMaxOpenConns)
		db.SetMaxIdleConns(PostgresMaxIdleConns)
		db.SetConnMaxLifetime(PostgresConnMaxLifetime)
	})
	if err != nil {
		slog.Error("PostgresStore unavailable", "error", err)
		return nil, err
	}
	slog.Info("PostgresStore connected")
	return &PostgresStore{sqlStore{db: db, q: postgresQueries}}, nil
}
