package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// openTimeout bounds the connect and schema setup of the SQL backends.
const openTimeout = 15 * time.Second

// sqlQueries holds the dialect-specific statements shared by the SQL backends.
type sqlQueries struct {
	name         string
	loadSnapshot string
	saveSnapshot string
	insertApp    string
	listApps     string
	pruneApps    string
}

var sqliteQueries = sqlQueries{
	name:         "SQLiteStore",
	loadSnapshot: `SELECT payload FROM snapshots WHERE id = 1`,
	saveSnapshot: `INSERT OR REPLACE INTO snapshots (id, version, payload, updated_at) VALUES (1, ?, ?, ?)`,
	insertApp:    `INSERT OR REPLACE INTO applications (id, user_id, phone_number, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
	listApps:     `SELECT payload FROM applications ORDER BY created_at DESC`,
	pruneApps:    `DELETE FROM applications WHERE created_at < ?`,
}

var postgresQueries = sqlQueries{
	name:         "PostgresStore",
	loadSnapshot: `SELECT payload FROM snapshots WHERE id = 1`,
	saveSnapshot: `INSERT INTO snapshots (id, version, payload, updated_at) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
	insertApp: `INSERT INTO applications (id, user_id, phone_number, payload, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
	listApps:  `SELECT payload FROM applications ORDER BY created_at DESC`,
	pruneApps: `DELETE FROM applications WHERE created_at < $1`,
}

// sqlStore implements Store on top of database/sql.
type sqlStore struct {
	db *sql.DB
	q  sqlQueries
}

func (s *sqlStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.q.loadSnapshot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Info(s.q.name+" no snapshot stored, starting empty")
		return models.NewSnapshot(), nil
	}
	if err != nil {
		slog.Error(s.q.name+" LoadSnapshot failed", "error", err)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap, err := decodeSnapshot(payload)
	if err != nil {
		return nil, err
	}
	slog.Debug(s.q.name+" LoadSnapshot succeeded", "users", len(snap.UserStates))
	return snap, nil
}

func (s *sqlStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.saveSnapshot, models.SnapshotVersion, string(data), time.Now().UTC()); err != nil {
		slog.Error(s.q.name+" SaveSnapshot failed", "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	slog.Debug(s.q.name+" SaveSnapshot succeeded", "bytes", len(data))
	return nil
}

func (s *sqlStore) AppendApplication(ctx context.Context, app models.Application) error {
	payload, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to encode application: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q.insertApp, app.ID, app.UserID.String(), app.PhoneNumber, string(payload), app.CreatedAt.UnixMilli()); err != nil {
		slog.Error(s.q.name+" AppendApplication failed", "error", err, "id", app.ID)
		return fmt.Errorf("failed to insert application %s: %w", app.ID, err)
	}
	if _, err := s.PruneApplications(ctx, app.CreatedAt.Add(-ApplicationRetention)); err != nil {
		return err
	}
	slog.Debug(s.q.name+" AppendApplication succeeded", "id", app.ID, "user_id", app.UserID)
	return nil
}

func (s *sqlStore) ListApplications(ctx context.Context) ([]models.Application, error) {
	rows, err := s.db.QueryContext(ctx, s.q.listApps)
	if err != nil {
		slog.Error(s.q.name+" ListApplications query failed", "error", err)
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	apps := []models.Application{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		var app models.Application
		if err := json.Unmarshal(payload, &app); err != nil {
			return nil, fmt.Errorf("failed to decode application row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate application rows: %w", err)
	}
	slog.Debug(s.q.name+" ListApplications succeeded", "count", len(apps))
	return apps, nil
}

func (s *sqlStore) PruneApplications(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q.pruneApps, cutoff.UnixMilli())
	if err != nil {
		slog.Error(s.q.name+" PruneApplications failed", "error", err)
		return 0, fmt.Errorf("failed to prune applications: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info(s.q.name+" pruned applications", "removed", n)
	}
	return int(n), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// openDB connects to a SQL backend, lets tune adjust the pool and applies schema.
func openDB(name, driver, dsn, schema string, tune func(*sql.DB)) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s: database DSN not set", name)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open failed: %w", name, err)
	}
	if tune != nil {
		tune(db)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", name, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: schema setup failed: %w", name, err)
	}
	slog.Debug(name+" schema ready", "driver", driver)
	return db, nil
}
