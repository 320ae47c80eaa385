package controllers

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ProductCachePrefix = "product:detail:"
	CacheVersionKey    = "products:version"
)

// CacheManager invalidates the storefront product cache. List pages are
// keyed by CacheVersionKey, so bumping it drops every cached list at once.
type CacheManager struct {
	redis *redis.Client
}

func NewCacheManager(redis *redis.Client) *CacheManager {
	return &CacheManager{redis: redis}
}

// InvalidateProducts drops the detail entries of ids and bumps the list
// version.
func (cm *CacheManager) InvalidateProducts(ctx context.Context, ids []string) error {
	pipe := cm.redis.TxPipeline()
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = ProductCachePrefix + id
		}
		pipe.Del(ctx, keys...)
	}
	pipe.Incr(ctx, CacheVersionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate product cache: %w", err)
	}
	return nil
}
