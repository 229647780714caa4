package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// File store defaults
const (
	// DefaultSnapshotFileName is the snapshot file name inside the state directory
	DefaultSnapshotFileName = "users_data.json"
	// DefaultApplicationsFileName is the application log file name inside the state directory
	DefaultApplicationsFileName = "applications.json"
	// DefaultDirPermissions defines the default permissions for state directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the default permissions for state files
	DefaultFilePermissions = 0644
)

// FileStore persists the snapshot as a JSON document. When the primary path is not
// readable or writable it falls back to a second path.
type FileStore struct {
	mu           sync.Mutex
	path         string
	fallbackPath string
	appsPath     string
}

// NewFileStore creates a JSON file store. The DSN is the snapshot path.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	path := cfg.DSN
	if path == "" {
		path = DefaultSnapshotFileName
	}
	fallback := cfg.FallbackPath
	if fallback == "" {
		fallback = filepath.Base(path)
	}
	apps := cfg.AppsPath
	if apps == "" {
		apps = filepath.Join(filepath.Dir(path), DefaultApplicationsFileName)
	}
	slog.Debug("NewFileStore invoked", "path", path, "fallback", fallback, "applications", apps)
	return &FileStore{path: path, fallbackPath: fallback, appsPath: apps}, nil
}

// Path returns the primary snapshot path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range s.candidates() {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			snap, derr := decodeSnapshot(data)
			if derr != nil {
				slog.Error("FileStore LoadSnapshot decode failed", "error", derr, "path", path)
				return nil, fmt.Errorf("failed to load snapshot from %s: %w", path, derr)
			}
			slog.Info("FileStore LoadSnapshot succeeded", "path", path, "users", len(snap.UserStates))
			return snap, nil
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("FileStore snapshot not found", "path", path)
		case errors.Is(err, fs.ErrPermission):
			slog.Warn("FileStore snapshot not readable, trying fallback", "path", path, "error", err)
		default:
			slog.Error("FileStore LoadSnapshot read failed", "error", err, "path", path)
			return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
		}
	}

	slog.Info("FileStore no snapshot found, starting empty", "path", s.path)
	return models.NewSnapshot(), nil
}

func (s *FileStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for _, path := range s.candidates() {
		err := writeFileAtomic(path, data)
		if err == nil {
			slog.Debug("FileStore SaveSnapshot succeeded", "path", path, "bytes", len(data))
			return nil
		}
		lastErr = err
		if !errors.Is(err, fs.ErrPermission) {
			break
		}
		slog.Warn("FileStore snapshot not writable, trying fallback", "path", path, "error", err)
	}
	slog.Error("FileStore SaveSnapshot failed", "error", lastErr, "path", s.path)
	return fmt.Errorf("failed to save snapshot: %w", lastErr)
}

func (s *FileStore) AppendApplication(ctx context.Context, app models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.readApplications()
	if err != nil {
		return err
	}
	apps = pruneApplications(append(apps, app), app.CreatedAt.Add(-ApplicationRetention))
	if err := s.writeApplications(apps); err != nil {
		return err
	}
	slog.Debug("FileStore AppendApplication succeeded", "id", app.ID, "retained", len(apps))
	return nil
}

func (s *FileStore) ListApplications(ctx context.Context) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.readApplications()
	if err != nil {
		return nil, err
	}
	sortApplications(apps)
	return apps, nil
}

func (s *FileStore) PruneApplications(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.readApplications()
	if err != nil {
		return 0, err
	}
	before := len(apps)
	apps = pruneApplications(apps, cutoff)
	removed := before - len(apps)
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeApplications(apps); err != nil {
		return 0, err
	}
	slog.Info("FileStore pruned applications", "removed", removed, "retained", len(apps))
	return removed, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) candidates() []string {
	if s.fallbackPath == "" || s.fallbackPath == s.path {
		return []string{s.path}
	}
	return []string{s.path, s.fallbackPath}
}

func (s *FileStore) readApplications() ([]models.Application, error) {
	data, err := os.ReadFile(s.appsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Application{}, nil
	}
	if err != nil {
		slog.Error("FileStore read applications failed", "error", err, "path", s.appsPath)
		return nil, fmt.Errorf("failed to read applications %s: %w", s.appsPath, err)
	}
	var apps []models.Application
	if len(data) > 0 {
		if err := json.Unmarshal(data, &apps); err != nil {
			return nil, fmt.Errorf("failed to decode applications %s: %w", s.appsPath, err)
		}
	}
	return apps, nil
}

func (s *FileStore) writeApplications(apps []models.Application) error {
	if apps == nil {
		apps = []models.Application{}
	}
	data, err := json.MarshalIndent(apps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode applications: %w", err)
	}
	if err := writeFileAtomic(s.appsPath, data); err != nil {
		slog.Error("FileStore write applications failed", "error", err, "path", s.appsPath)
		return fmt.Errorf("failed to write applications %s: %w", s.appsPath, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
