package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheConfig configures a CachedDirectory
type CacheConfig struct {
	// Prefix is prepended to every cache key
	Prefix string
	// TTL bounds how long a cached space may be served
	TTL time.Duration
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix: "docengine:space:",
		TTL:    5 * time.Minute,
	}
}

// CachedDirectory serves id lookups from Redis and falls through to the
// wrapped directory on a miss. Misses are not cached, and a Redis failure
// degrades to an uncached lookup.
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	config CacheConfig
	logger *zap.Logger
}

// NewCachedDirectory wraps next with a Redis cache
func NewCachedDirectory(next Directory, client *redis.Client, config CacheConfig, logger *zap.Logger) *CachedDirectory {
	if config.TTL == 0 {
		config.TTL = DefaultCacheConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedDirectory{next: next, client: client, config: config, logger: logger}
}

// Get returns the space for ref
func (d *CachedDirectory) Get(ctx context.Context, ref Ref) (*Space, error) {
	// only id lookups are cacheable
	if ref.ID == "" {
		return d.next.Get(ctx, ref)
	}

	key := d.config.Prefix + ref.ID
	data, err := d.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s Space
		if jsonErr := json.Unmarshal(data, &s); jsonErr == nil && ref.matches(&s) {
			return &s, nil
		}
	case !errors.Is(err, redis.Nil):
		d.logger.Warn("space cache read failed", zap.String("space", ref.ID), zap.Error(err))
	}

	s, err := d.next.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(s); err == nil {
		if err := d.client.Set(ctx, key, data, d.config.TTL).Err(); err != nil {
			d.logger.Warn("space cache write failed", zap.String("space", ref.ID), zap.Error(err))
		}
	}
	return s, nil
}

// Invalidate removes a cached space
func (d *CachedDirectory) Invalidate(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.config.Prefix+id).Err()
}
