package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis keys used by RedisStore.
const (
	RedisSnapshotKey     = "leadpipe:snapshot"
	RedisApplicationsKey = "leadpipe:applications"
)

// RedisStore keeps the snapshot under one key and the application log in a sorted set
// scored by creation time.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	options, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(options)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		slog.Error("Redis ping failed", "error", err, "addr", options.Addr)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("RedisStore connected", "addr", options.Addr, "db", options.DB)
	return NewRedisStoreFromClient(rdb), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	data, err := s.rdb.Get(ctx, RedisSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		slog.Info("RedisStore no snapshot stored, starting empty")
		return models.NewSnapshot(), nil
	}
	if err != nil {
		slog.Error("RedisStore LoadSnapshot failed", "error", err)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, RedisSnapshotKey, data, 0).Err(); err != nil {
		slog.Error("RedisStore SaveSnapshot failed", "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	slog.Debug("RedisStore SaveSnapshot succeeded", "bytes", len(data))
	return nil
}

func (s *RedisStore) AppendApplication(ctx context.Context, app models.Application) error {
	payload, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to encode application: %w", err)
	}
	cutoff := app.CreatedAt.Add(-ApplicationRetention)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, RedisApplicationsKey, redis.Z{Score: float64(app.CreatedAt.UnixMilli()), Member: payload})
		pipe.ZRemRangeByScore(ctx, RedisApplicationsKey, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10))
		return nil
	})
	if err != nil {
		slog.Error("RedisStore AppendApplication failed", "error", err, "id", app.ID)
		return fmt.Errorf("failed to append application %s: %w", app.ID, err)
	}
	return nil
}

func (s *RedisStore) ListApplications(ctx context.Context) ([]models.Application, error) {
	members, err := s.rdb.ZRevRange(ctx, RedisApplicationsKey, 0, -1).Result()
	if err != nil {
		slog.Error("RedisStore ListApplications failed", "error", err)
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	apps := make([]models.Application, 0, len(members))
	for _, m := range members {
		var app models.Application
		if err := json.Unmarshal([]byte(m), &app); err != nil {
			slog.Warn("RedisStore skipping undecodable application", "error", err)
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (s *RedisStore) PruneApplications(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.rdb.ZRemRangeByScore(ctx, RedisApplicationsKey, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune applications: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
