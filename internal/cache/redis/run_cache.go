package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

const latestRunKey = "features:run:latest"

// RunCache implements domain.RunCache by storing the latest build run as a
// JSON string. The API reads it without touching Postgres.
type RunCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.RunCache = (*RunCache)(nil)

// NewRunCache creates a RunCache. A zero ttl keeps the entry until it is
// overwritten.
func NewRunCache(c *Client, ttl time.Duration) *RunCache {
	return &RunCache{rdb: c.rdb, ttl: ttl}
}

// SetLatest replaces the cached latest run.
func (rc *RunCache) SetLatest(ctx context.Context, run domain.BuildRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("redis: marshal run %s: %w", run.ID, err)
	}
	if err := rc.rdb.Set(ctx, latestRunKey, data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set latest run: %w", err)
	}
	return nil
}

// GetLatest returns the cached latest run, or domain.ErrNotFound.
func (rc *RunCache) GetLatest(ctx context.Context) (domain.BuildRun, error) {
	data, err := rc.rdb.Get(ctx, latestRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BuildRun{}, fmt.Errorf("redis: latest run: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.BuildRun{}, fmt.Errorf("redis: get latest run: %w", err)
	}

	var run domain.BuildRun
	if err := json.Unmarshal(data, &run); err != nil {
		return domain.BuildRun{}, fmt.Errorf("redis: unmarshal latest run: %w", err)
	}
	return run, nil
}
