package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"threatlens-lab/internal/config"
	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// RedisCache wraps the Redis client with typed operations
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}, nil
}

// Client returns the underlying Redis client
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.key(key)).Result()
}

// GetJSON retrieves and unmarshals a JSON value from cache
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// Set stores a value in cache with optional TTL
func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// SetJSON marshals and stores a value in cache
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Delete removes keys from cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.key(k)
	}
	return c.client.Del(ctx, prefixedKeys...).Err()
}

// Exists checks if keys exist
func (c *RedisCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.key(k)
	}
	return c.client.Exists(ctx, prefixedKeys...).Result()
}

// Incr increments an integer value
func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, c.key(key)).Result()
}

// SetNX sets a value only if the key does not exist (for distributed locks)
func (c *RedisCache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(key), value, ttl).Result()
}

// SAdd adds members to a set
func (c *RedisCache) SAdd(ctx context.Context, key string, members ...any) error {
	return c.client.SAdd(ctx, c.key(key), members...).Err()
}

// SIsMember checks if a value is a member of a set
func (c *RedisCache) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	return c.client.SIsMember(ctx, c.key(key), member).Result()
}

// SCard returns the cardinality of a set
func (c *RedisCache) SCard(ctx context.Context, key string) (int64, error) {
	return c.client.SCard(ctx, c.key(key)).Result()
}

// Expire sets a TTL on a key
func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, c.key(key), ttl).Err()
}

// Pipeline returns a Redis pipeline for batch operations
func (c *RedisCache) Pipeline() redis.Pipeliner {
	return c.client.Pipeline()
}

// Cache key namespaces
const (
	// Per-fingerprint analysis locks (at-most-once-in-flight)
	KeyAnalysisLockPrefix = "analysis:lock:"

	// Rebuild job state and processed-document sets
	KeyRebuildJobPrefix  = "rebuild:job:"
	KeyRebuildSeenPrefix = "rebuild:seen:"

	// Duplicate detector fast path: recently admitted source refs
	KeyDedupRefPrefix = "dedup:ref:"

	// API rate limiting
	KeyRateLimitPrefix = "rate_limit:"
)

// AcquireAnalysisLock attempts to take the per-fingerprint analysis lock.
// Returns false when another instance is already analyzing the fingerprint.
func (c *RedisCache) AcquireAnalysisLock(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, KeyAnalysisLockPrefix+fingerprint, "locked", ttl)
}

// ReleaseAnalysisLock releases the per-fingerprint analysis lock
func (c *RedisCache) ReleaseAnalysisLock(ctx context.Context, fingerprint string) error {
	return c.Delete(ctx, KeyAnalysisLockPrefix+fingerprint)
}

// MarkSourceRef records a recently admitted source reference for the
// duplicate detector's exact-match stage
func (c *RedisCache) MarkSourceRef(ctx context.Context, refHash string, documentID string, ttl time.Duration) error {
	return c.Set(ctx, KeyDedupRefPrefix+refHash, documentID, ttl)
}

// LookupSourceRef returns the document id recorded for a source
// reference hash, or "" when none is cached
func (c *RedisCache) LookupSourceRef(ctx context.Context, refHash string) (string, error) {
	val, err := c.Get(ctx, KeyDedupRefPrefix+refHash)
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// CheckRateLimit checks and increments the rate limit counter.
// Returns (allowed, remaining, resetTime, error).
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	now := time.Now()
	windowKey := fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, now.Unix()/int64(window.Seconds()))

	pipe := c.Pipeline()
	incr := pipe.Incr(ctx, c.key(windowKey))
	pipe.Expire(ctx, c.key(windowKey), window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, now.Add(window), nil
}

// SaveJob persists a rebuild job record as JSON
func (c *RedisCache) SaveJob(ctx context.Context, job *models.RebuildJob, ttl time.Duration) error {
	return c.SetJSON(ctx, KeyRebuildJobPrefix+job.ID, job, ttl)
}

// LoadJob retrieves a rebuild job record. Returns nil when the job is
// unknown or has expired.
func (c *RedisCache) LoadJob(ctx context.Context, jobID string) (*models.RebuildJob, error) {
	var job models.RebuildJob
	err := c.GetJSON(ctx, KeyRebuildJobPrefix+jobID, &job)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkProcessed adds a document to a rebuild job's processed set
func (c *RedisCache) MarkProcessed(ctx context.Context, jobID string, documentID uuid.UUID, ttl time.Duration) error {
	key := KeyRebuildSeenPrefix + jobID
	if err := c.SAdd(ctx, key, documentID.String()); err != nil {
		return err
	}
	return c.Expire(ctx, key, ttl)
}

// IsProcessed reports whether a rebuild job already handled a document
func (c *RedisCache) IsProcessed(ctx context.Context, jobID string, documentID uuid.UUID) (bool, error) {
	return c.SIsMember(ctx, KeyRebuildSeenPrefix+jobID, documentID.String())
}
