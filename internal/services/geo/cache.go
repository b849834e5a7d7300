package geo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"go.uber.org/zap"
)

// Cache stores resolved points. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, id string) (domain.GeoPoint, bool, error)
	Set(ctx context.Context, id string, p domain.GeoPoint) error
}

// Cached decorates a resolver with a cache. Cache failures are logged and
// fall through to the resolver.
type Cached struct {
	next  Resolver
	cache Cache
	l     *zap.Logger
}

// NewCached creates a caching resolver.
func NewCached(l *zap.Logger, next Resolver, cache Cache) *Cached {
	return &Cached{next: next, cache: cache, l: l}
}

// Resolve implements Resolver.
func (c *Cached) Resolve(ctx context.Context, id string) (domain.GeoPoint, error) {
	p, ok, err := c.cache.Get(ctx, id)
	if err != nil {
		c.l.Debug("geo cache read failed", zap.String("id", id), zap.Error(err))
	}
	if ok {
		return p, nil
	}

	p, err = c.next.Resolve(ctx, id)
	if err != nil {
		return domain.GeoPoint{}, err
	}
	if err := c.cache.Set(ctx, id, p); err != nil {
		c.l.Debug("geo cache write failed", zap.String("id", id), zap.Error(err))
	}
	return p, nil
}

// RedisCache keeps points as JSON strings under "geo:{id}".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl}
}

func key(id string) string {
	return "geo:" + id
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, id string) (domain.GeoPoint, bool, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.GeoPoint{}, false, nil
		}
		return domain.GeoPoint{}, false, errors.Wrap(err, "redis get")
	}

	var p domain.GeoPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.GeoPoint{}, false, errors.Wrap(err, "decode cached point")
	}
	return p, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, id string, p domain.GeoPoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode point")
	}
	return errors.Wrap(r.client.Set(ctx, key(id), data, r.ttl).Err(), "redis set")
}

// Close releases the connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
