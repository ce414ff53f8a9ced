package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/nillion-storage-api/internal/audit"
	auditstore "github.com/serroba/nillion-storage-api/internal/audit/store"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
	"github.com/serroba/nillion-storage-api/internal/secrets"
	"github.com/serroba/nillion-storage-api/internal/store"
	"go.uber.org/zap"
)

// PostgresPackage provides a bounded pgx pool.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		opts := do.MustInvoke[*Options](i)
		closer := do.MustInvoke[*Closer](i)

		cfg, err := pgxpool.ParseConfig(opts.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres config: %w", err)
		}

		if opts.DBMaxConns > 0 {
			cfg.MaxConns = int32(opts.DBMaxConns)
		}

		pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}

		closer.Add(func() error {
			pool.Close()

			return nil
		})

		return pool, nil
	})
}

// RedisPackage provides a Redis client, or nil when no address is configured.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		opts := do.MustInvoke[*Options](i)
		closer := do.MustInvoke[*Closer](i)

		if opts.RedisAddr == "" {
			return nil, nil
		}

		redisOpts := &redis.Options{Addr: opts.RedisAddr}

		if strings.Contains(opts.RedisAddr, "://") {
			parsed, err := redis.ParseURL(opts.RedisAddr)
			if err != nil {
				return nil, fmt.Errorf("redis url: %w", err)
			}

			redisOpts = parsed
		}

		client := redis.NewClient(redisOpts)
		closer.Add(client.Close)

		return client, nil
	})
}

// RepositoryPackage provides the bookkeeping repository and operation journal.
func RepositoryPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (secrets.Repository, error) {
		if do.MustInvoke[*Options](i).Storage == StorageMemory {
			return store.NewMemoryRepository(), nil
		}

		return store.NewPostgresRepository(do.MustInvoke[*pgxpool.Pool](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (secrets.Journal, error) {
		if do.MustInvoke[*Options](i).Storage == StorageMemory {
			return store.NewMemoryJournal(), nil
		}

		return store.NewPostgresJournal(do.MustInvoke[*pgxpool.Pool](i)), nil
	})
}

// CachePackage provides the retrieved-secret cache.
func CachePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (secrets.Cache, error) {
		if client := do.MustInvoke[*redis.Client](i); client != nil {
			return store.NewRedisSecretCache(client), nil
		}

		return store.NewMemorySecretCache(), nil
	})
}

// RateLimitPackage provides the sliding window limiter. Replicas sharing a
// Redis share one quota per client.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)

		var backing ratelimit.Store = store.NewRateLimitMemoryStore()
		if client := do.MustInvoke[*redis.Client](i); client != nil {
			backing = store.NewRateLimitRedisStore(client)
		}

		return ratelimit.NewSlidingWindowLimiter(backing, opts.RateLimit, opts.RateWindow), nil
	})
}

// AuditStorePackage provides where consumed audit events are written.
func AuditStorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (audit.Store, error) {
		if do.MustInvoke[*Options](i).Storage == StorageMemory {
			return auditstore.NewNoop(do.MustInvoke[*zap.Logger](i)), nil
		}

		return auditstore.NewPostgres(do.MustInvoke[*pgxpool.Pool](i)), nil
	})
}
