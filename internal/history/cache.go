package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
)

const reportKeyPrefix = "report:"

// CachedStore fronts a ReportStore with Redis. Reads go through the cache, writes go to the
// store first and then the cache. Cache failures are logged and never fail the operation.
type CachedStore struct {
	next       domain.ReportStore
	redis      *redis.Client
	defaultTTL time.Duration
	logger     *logrus.Logger
}

// NewCachedStore connects to Redis and wraps next.
func NewCachedStore(next domain.ReportStore, config domain.CacheConfig, logger *logrus.Logger) (*CachedStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewCachedStoreWithClient(next, client, config.DefaultTTL, logger), nil
}

// NewCachedStoreWithClient wraps next with an existing Redis client.
func NewCachedStoreWithClient(next domain.ReportStore, client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedStore{next: next, redis: client, defaultTTL: ttl, logger: logger}
}

func reportKey(id string) string {
	return reportKeyPrefix + id
}

func (c *CachedStore) Save(ctx context.Context, rec *domain.ReportRecord) error {
	if err := c.next.Save(ctx, rec); err != nil {
		return err
	}
	c.put(ctx, rec)
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (*domain.ReportRecord, error) {
	key := reportKey(id)

	val, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		c.logger.WithError(err).WithField("report_id", id).Warn("Report cache read failed")
	default:
		var rec domain.ReportRecord
		if err := json.Unmarshal([]byte(val), &rec); err == nil {
			return &rec, nil
		}
		// Corrupted entry
		c.redis.Del(ctx, key)
	}

	rec, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, rec)
	return rec, nil
}

// List always reads from the store; pages are not cached.
func (c *CachedStore) List(ctx context.Context, subjectID string, limit, offset int) ([]*domain.ReportRecord, error) {
	return c.next.List(ctx, subjectID, limit, offset)
}

func (c *CachedStore) Count(ctx context.Context) (int64, error) {
	return c.next.Count(ctx)
}

func (c *CachedStore) Delete(ctx context.Context, id string) error {
	if err := c.next.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.redis.Del(ctx, reportKey(id)).Err(); err != nil {
		c.logger.WithError(err).WithField("report_id", id).Warn("Report cache eviction failed")
	}
	return nil
}

func (c *CachedStore) ExportJSON(ctx context.Context, w io.Writer) error {
	return c.next.ExportJSON(ctx, w)
}

func (c *CachedStore) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
	return c.next.ImportJSON(ctx, r)
}

// Close closes the Redis client and the wrapped store.
func (c *CachedStore) Close() error {
	cacheErr := c.redis.Close()
	if err := c.next.Close(); err != nil {
		return err
	}
	return cacheErr
}

func (c *CachedStore) put(ctx context.Context, rec *domain.ReportRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal report for cache")
		return
	}
	if err := c.redis.Set(ctx, reportKey(rec.ID), data, c.defaultTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("report_id", rec.ID).Warn("Report cache write failed")
	}
}
