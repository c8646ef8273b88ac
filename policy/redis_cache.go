package policy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis, shared across server replicas.
// It stores source documents and re-parses them on Get. Redis failures are
// logged and treated as cache misses.
type RedisCache struct {
	client redis.Cmdable
	config CacheConfig
	opts   LoadOptions
	logger *slog.Logger
}

// NewRedisCache creates a cache on an existing client
func NewRedisCache(client redis.Cmdable, config CacheConfig, opts LoadOptions) *RedisCache {
	return &RedisCache{
		client: client,
		config: config,
		opts:   opts,
		logger: opts.logger(),
	}
}

// NewRedisClient parses a redis:// URL into a client
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func (c *RedisCache) key(policyID, version string) string {
	return c.config.KeyPrefix + policyID + ":" + version
}

// Get retrieves and parses a cached document
func (c *RedisCache) Get(ctx context.Context, policyID, version string) (*Policy, bool) {
	data, err := c.client.Get(ctx, c.key(policyID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("policy cache read failed", "policy_id", policyID, "version", version, "error", err)
		return nil, false
	}

	p, err := Parse(data, c.opts)
	if err != nil {
		c.logger.Warn("dropping unparsable cached policy", "policy_id", policyID, "version", version, "error", err)
		c.Invalidate(ctx, policyID, version)
		return nil, false
	}
	return p, true
}

// Set stores the policy's source document with the configured TTL
func (c *RedisCache) Set(ctx context.Context, p *Policy) {
	if p == nil {
		return
	}
	if err := c.client.Set(ctx, c.key(p.PolicyID, p.Version), p.Document(), c.config.TTL).Err(); err != nil {
		c.logger.Warn("policy cache write failed", "policy_id", p.PolicyID, "version", p.Version, "error", err)
	}
}

// Invalidate drops one version
func (c *RedisCache) Invalidate(ctx context.Context, policyID, version string) {
	if err := c.client.Del(ctx, c.key(policyID, version)).Err(); err != nil {
		c.logger.Warn("policy cache invalidate failed", "policy_id", policyID, "version", version, "error", err)
	}
}

// InvalidateAll deletes every key under the configured prefix
func (c *RedisCache) InvalidateAll(ctx context.Context) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("policy cache scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("policy cache invalidate failed", "error", err)
	}
}
