package followupboss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"crm-assistant/internal/common/database"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/models"
)

// Cache keeps recent CRM responses in Redis. Failures are logged and treated
// as misses; the cache never fails a request.
type Cache struct {
	redis  *database.RedisClient
	ttl    time.Duration
	prefix string
	logger logger.Logger
}

func NewCache(redis *database.RedisClient, ttl time.Duration, prefix string, log logger.Logger) *Cache {
	return &Cache{
		redis:  redis,
		ttl:    ttl,
		prefix: prefix,
		logger: log,
	}
}

// key hashes the query so record names never appear as Redis keys.
func (c *Cache) key(q Query) string {
	sum := sha256.Sum256([]byte(q.Key()))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, q Query) (models.Value, bool) {
	raw, found, err := c.redis.Get(ctx, c.key(q))
	if err != nil {
		c.logger.Warn("crm cache read failed", map[string]interface{}{
			"path":  q.Path,
			"error": err.Error(),
		})
		return models.Null(), false
	}
	if !found {
		return models.Null(), false
	}
	v, err := models.ParseValue([]byte(raw))
	if err != nil {
		c.logger.Warn("crm cache entry unreadable", map[string]interface{}{
			"path":  q.Path,
			"error": err.Error(),
		})
		return models.Null(), false
	}
	return v, true
}

func (c *Cache) Put(ctx context.Context, q Query, v models.Value) {
	b, err := v.MarshalJSON()
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(q), string(b), c.ttl); err != nil {
		c.logger.Warn("crm cache write failed", map[string]interface{}{
			"path":  q.Path,
			"error": err.Error(),
		})
	}
}
