package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// typesCacheKey is the single key the taxonomy is cached under: the seeded
// catalogue is small (15 rows) and never mutated at runtime, so one whole-
// table blob beats one key per group or per id.
const typesCacheKey = "relationship:types:all"

// Cache is an optional read-through cache for the relationship type
// taxonomy: it pings redis on construction and stores RelationshipType rows
// as one JSON blob. It has no health-check loop and no Stats endpoint.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// CacheConfig configures the optional relationship-type cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultCacheConfig returns a local redis on DB 0 with a 10-minute TTL;
// the type table is written only when the store seeds it.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr: "localhost:6379",
		DB:   0,
		TTL:  10 * time.Minute,
	}
}

// NewCache connects to redis and verifies reachability before returning;
// an unreachable server is an error.
func NewCache(cfg CacheConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("relationship: cache: connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheConfig().TTL
	}
	return &Cache{redis: client, ttl: ttl, logger: logger}, nil
}

// loadTypes returns the cached taxonomy, or (nil, false) on a miss or any
// cache error — a cache outage must never fail a relationship lookup.
func (c *Cache) loadTypes(ctx context.Context) ([]RelationshipType, bool) {
	val, err := c.redis.Get(ctx, typesCacheKey).Result()
	if err != nil {
		return nil, false
	}
	var types []RelationshipType
	if err := json.Unmarshal([]byte(val), &types); err != nil {
		if c.logger != nil {
			c.logger.Warn("relationship: cache: failed to unmarshal cached types", zap.Error(err))
		}
		return nil, false
	}
	return types, true
}

// storeTypes populates the cache; failures are logged and swallowed.
func (c *Cache) storeTypes(ctx context.Context, types []RelationshipType) {
	body, err := json.Marshal(types)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, typesCacheKey, body, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.Warn("relationship: cache: failed to store types", zap.Error(err))
		}
	}
}
