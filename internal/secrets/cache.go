package secrets

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"go.uber.org/zap"
)

const DefaultCacheTTL = 24 * time.Hour

var ErrCacheMiss = errors.New("cache miss")

// Cache stores retrieved secret values. Get returns ErrCacheMiss for absent
// or expired keys.
type Cache interface {
	Get(ctx context.Context, key string) (nillion.SecretValue, error)
	Set(ctx context.Context, key string, value nillion.SecretValue, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// CacheKey names the entry for one requester's retrieval. The network only
// released the value to userID, so no other requester may be served from it.
func CacheKey(storeID, secretName, userID string) string {
	return CacheStorePrefix(storeID) + userID + ":" + secretName
}

// CacheStorePrefix is shared by every entry of storeID.
func CacheStorePrefix(storeID string) string {
	return "secret:" + storeID + ":"
}

// CachedBroker serves retrievals from a cache before paying for them.
// A hit never reaches the payment path. Updates invalidate every cached
// entry of the updated store id.
type CachedBroker struct {
	Broker
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCachedBroker creates a broker that caches next's retrievals for ttl.
func NewCachedBroker(next Broker, cache Cache, ttl time.Duration, m *metrics.Collector, logger *zap.Logger) *CachedBroker {
	return &CachedBroker{
		Broker:  next,
		cache:   cache,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
	}
}

func (c *CachedBroker) Retrieve(ctx context.Context, req RetrieveRequest) (nillion.SecretValue, error) {
	req = req.withDefaults()
	key := CacheKey(req.StoreID, req.Name, nillion.UserKeyFromSeed(req.Seed).UserID())

	value, err := c.cache.Get(ctx, key)
	if err == nil {
		c.metrics.RecordCacheHit()

		return value, nil
	}

	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("secret cache read failed", zap.String("key", key), zap.Error(err))
	}

	c.metrics.RecordCacheMiss()

	value, err = c.Broker.Retrieve(ctx, req)
	if err != nil {
		return nillion.SecretValue{}, err
	}

	if err := c.cache.Set(context.WithoutCancel(ctx), key, value, c.ttl); err != nil {
		c.logger.Warn("secret cache write failed", zap.String("key", key), zap.Error(err))
	}

	return value, nil
}

func (c *CachedBroker) UpdateAppSecret(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	res, err := c.Broker.UpdateAppSecret(ctx, req)
	if err != nil {
		return nil, err
	}

	prefix := CacheStorePrefix(res.Record.StoreID)
	if err := c.cache.DeletePrefix(context.WithoutCancel(ctx), prefix); err != nil {
		c.logger.Error("secret cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}

	return res, nil
}

// Compile-time check.
var _ Broker = (*CachedBroker)(nil)
