package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const decisionTTL = 5 * time.Minute

// DecisionCache stores resolved permission decisions in Redis with a bounded
// TTL. Every principal has a version counter; mutations to a principal's
// assignments or overrides bump the counter, which orphans every cached
// decision for that principal immediately.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache instantiates the cache helper. A nil client disables
// caching; every lookup then misses.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = decisionTTL
	}
	return &DecisionCache{client: client, ttl: ttl}
}

func versionKey(principalID string) string {
	return "authz:ver:" + principalID
}

func (c *DecisionCache) version(ctx context.Context, principalID string) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(principalID)).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, versionKey(principalID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the versioned cache key for one decision tuple.
func (c *DecisionCache) Key(ctx context.Context, principalID string, perm Permission, scope, resourceID string) (string, error) {
	joined := strings.Join([]string{"authz", "decision", principalID, string(perm), scope, resourceID}, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.version(ctx, principalID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// Get returns the cached decision for key. The second result reports a hit.
func (c *DecisionCache) Get(ctx context.Context, key string) (bool, bool, error) {
	if c == nil || c.client == nil {
		return false, false, nil
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return raw == "1", true, nil
}

// Put stores a decision under key for the configured TTL.
func (c *DecisionCache) Put(ctx context.Context, key string, allowed bool) error {
	if c == nil || c.client == nil {
		return nil
	}
	value := "0"
	if allowed {
		value = "1"
	}
	return c.client.Set(ctx, key, value, c.ttl).Err()
}

// Invalidate bumps the principal's version counter, synchronously orphaning
// every cached decision for that principal.
func (c *DecisionCache) Invalidate(ctx context.Context, principalID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(principalID)).Err()
}
