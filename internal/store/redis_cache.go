package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/secrets"
)

// RedisSecretCache keeps retrieved values as JSON strings so the value kind
// survives the round trip: "42" stays text and 42 stays an integer.
type RedisSecretCache struct {
	client *redis.Client
}

// NewRedisSecretCache creates a cache on client.
func NewRedisSecretCache(client *redis.Client) *RedisSecretCache {
	return &RedisSecretCache{client: client}
}

func (r *RedisSecretCache) Get(ctx context.Context, key string) (nillion.SecretValue, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nillion.SecretValue{}, secrets.ErrCacheMiss
		}

		return nillion.SecretValue{}, err
	}

	var value nillion.SecretValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return nillion.SecretValue{}, err
	}

	// Entries written by something else are treated as absent.
	if value.Validate() != nil {
		return nillion.SecretValue{}, secrets.ErrCacheMiss
	}

	return value, nil
}

func (r *RedisSecretCache) Set(ctx context.Context, key string, value nillion.SecretValue, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, raw, ttl).Err()
}

// DeletePrefix scans for the prefix's keys and deletes them in batches.
func (r *RedisSecretCache) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, globEscaper.Replace(prefix)+"*", scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == scanBatch {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}

			batch = batch[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if len(batch) == 0 {
		return nil
	}

	return r.client.Del(ctx, batch...).Err()
}

const scanBatch = 100

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Compile-time check.
var _ secrets.Cache = (*RedisSecretCache)(nil)
