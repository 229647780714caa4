// Package store provides persistence backends for LeadPipe.
//
// Every backend persists the whole per-user state as one versioned snapshot and keeps a
// rolling log of submitted applications. Backends: JSON file (default), SQLite, PostgreSQL,
// Redis and an in-memory store for tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ApplicationRetention is how long submitted applications stay in the local log.
const ApplicationRetention = 7 * 24 * time.Hour

// DSN types returned by DetectDSNType.
const (
	DSNTypeFile     = "file"
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
	DSNTypeRedis    = "redis"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists the state snapshot and the application log.
type Store interface {
	// LoadSnapshot returns the persisted snapshot, or an empty one when nothing is stored.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	// SaveSnapshot replaces the persisted snapshot.
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	// AppendApplication adds an application and drops entries older than the retention window.
	AppendApplication(ctx context.Context, app models.Application) error
	// ListApplications returns the retained applications, newest first.
	ListApplications(ctx context.Context) ([]models.Application, error)
	// PruneApplications removes applications created before the cutoff.
	PruneApplications(ctx context.Context, cutoff time.Time) (int, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN          string // connection string or snapshot file path
	FallbackPath string // file backend: snapshot path used when the primary path is not writable
	AppsPath     string // file backend: application log path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the backend connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option {
	return WithDSN(url)
}

// WithFallbackPath sets the snapshot path used when the primary file is not writable.
func WithFallbackPath(path string) Option {
	return func(o *Opts) {
		o.FallbackPath = path
	}
}

// WithApplicationsPath sets the application log path for the file backend.
func WithApplicationsPath(path string) Option {
	return func(o *Opts) {
		o.AppsPath = path
	}
}

// DetectDSNType classifies a connection string.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DSNTypePostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return DSNTypeRedis
	case strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return DSNTypeSQLite
	default:
		return DSNTypeFile
	}
}

// New opens the backend selected by the DSN type.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	kind := DetectDSNType(cfg.DSN)
	slog.Debug("store.New selecting backend", "type", kind, "dsn_set", cfg.DSN != "")
	switch kind {
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeRedis:
		return NewRedisStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	default:
		return NewFileStore(opts...)
	}
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu       sync.Mutex
	snapshot []byte
	apps     []models.Application
	saves    int
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return models.NewSnapshot(), nil
	}
	return decodeSnapshot(s.snapshot)
}

func (s *InMemoryStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = data
	s.saves++
	return nil
}

// Saves returns how many snapshots have been written.
func (s *InMemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *InMemoryStore) AppendApplication(ctx context.Context, app models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = pruneApplications(append(s.apps, app), app.CreatedAt.Add(-ApplicationRetention))
	return nil
}

func (s *InMemoryStore) ListApplications(ctx context.Context) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Application, len(s.apps))
	copy(out, s.apps)
	sortApplications(out)
	return out, nil
}

func (s *InMemoryStore) PruneApplications(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.apps)
	s.apps = pruneApplications(s.apps, cutoff)
	return before - len(s.apps), nil
}

func (s *InMemoryStore) Close() error { return nil }

// encodeSnapshot stamps the version and marshals the snapshot.
func encodeSnapshot(snap *models.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = models.NewSnapshot()
	}
	snap.Normalize()
	snap.Version = models.SnapshotVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot unmarshals a snapshot and defaults any missing field.
func decodeSnapshot(data []byte) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return models.NewSnapshot(), nil
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version > models.SnapshotVersion {
		slog.Warn("Snapshot written by a newer version, loading known fields only", "version", snap.Version)
	}
	snap.Normalize()
	return snap, nil
}

// pruneApplications keeps applications created at or after the cutoff.
func pruneApplications(apps []models.Application, cutoff time.Time) []models.Application {
	kept := apps[:0]
	for _, app := range apps {
		if !app.CreatedAt.Before(cutoff) {
			kept = append(kept, app)
		}
	}
	return kept
}

// sortApplications orders applications newest first.
func sortApplications(apps []models.Application) {
	sort.SliceStable(apps, func(i, j int) bool {
		return apps[i].CreatedAt.After(apps[j].CreatedAt)
	})
}
