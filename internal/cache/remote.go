package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/revware/revcache/internal/logging"
)

const (
	fieldValue = "v"
	fieldMeta  = "m"
	fieldHits  = "h"

	opTimeout   = 100 * time.Millisecond
	scanTimeout = 5 * time.Second
	scanBatch   = 100
)

// getScript fetches the value and metadata and bumps the hit counter in one
// round trip. The counter is only touched when the value field is present, so
// a miss never materializes a stray hash.
var getScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'v')
if not v then
  return false
end
local m = redis.call('HGET', KEYS[1], 'm')
redis.call('HINCRBY', KEYS[1], 'h', 1)
return {v, m}
`)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// RemoteBackend is the shared L2 tier backed by Redis. Each entry is one hash
// with a value field, a metadata field and a hit counter, expiring as a whole
// via the key TTL. All operations run through a circuit breaker and degrade
// to miss/false on any failure.
type RemoteBackend struct {
	client      *redis.Client
	prefix      string
	defaultTTL  time.Duration
	compressMin int
	breaker     *gobreaker.CircuitBreaker[any]
	now         func() time.Time
}

// NewRemoteBackend creates an L2 backend. All keys live under prefix, e.g.
// "revcache:". compressMin is the value size in bytes above which payloads
// are zstd-compressed; 0 applies a 4KiB default, negative disables.
func NewRemoteBackend(client *redis.Client, prefix string, defaultTTL time.Duration, compressMin int) *RemoteBackend {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if compressMin == 0 {
		compressMin = 4 << 10
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "redis-cache",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("redis cache breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &RemoteBackend{
		client:      client,
		prefix:      prefix,
		defaultTTL:  defaultTTL,
		compressMin: compressMin,
		breaker:     breaker,
		now:         time.Now,
	}
}

func (b *RemoteBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := b.breaker.Execute(func() (any, error) {
		return getScript.Run(ctx, b.client, []string{b.prefix + key}).Result()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn("redis cache get failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) < 2 {
		return nil, false
	}
	payload, _ := fields[0].(string)
	metaRaw, _ := fields[1].(string)

	var meta Metadata
	if metaRaw != "" {
		if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
			logging.Error("redis cache metadata decode failed, treating as miss",
				zap.String("key", key), zap.Error(err))
			return nil, false
		}
	}
	// Redis expires the whole entry server-side; the lazy check covers
	// clock-injected reads and a not-yet-purged entry.
	if !meta.ExpiresAt.IsZero() && b.now().After(meta.ExpiresAt) {
		b.Delete(ctx, key)
		return nil, false
	}

	value := []byte(payload)
	if meta.Compressed {
		decoded, err := zstdDecoder.DecodeAll(value, nil)
		if err != nil {
			logging.Error("redis cache decompress failed, treating as miss",
				zap.String("key", key), zap.Error(err))
			return nil, false
		}
		value = decoded
	}
	return value, true
}

func (b *RemoteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	now := b.now()

	payload := value
	compressed := false
	if b.compressMin > 0 && len(value) >= b.compressMin {
		payload = zstdEncoder.EncodeAll(value, nil)
		compressed = true
	}

	metaRaw, err := json.Marshal(Metadata{
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Size:       int64(len(value)),
		Compressed: compressed,
	})
	if err != nil {
		logging.Error("redis cache metadata encode failed", zap.String("key", key), zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = b.breaker.Execute(func() (any, error) {
		pipe := b.client.Pipeline()
		pipe.HSet(ctx, b.prefix+key, fieldValue, payload, fieldMeta, metaRaw, fieldHits, 0)
		pipe.Expire(ctx, b.prefix+key, ttl)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		logging.Warn("redis cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (b *RemoteBackend) Delete(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.client.Del(ctx, b.prefix+key).Err()
	})
	if err != nil {
		logging.Warn("redis cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (b *RemoteBackend) Exists(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := b.breaker.Execute(func() (any, error) {
		return b.client.HGet(ctx, b.prefix+key, fieldMeta).Result()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn("redis cache exists failed, treating as absent", zap.Error(err))
		}
		return false
	}
	var meta Metadata
	if raw, _ := res.(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return false
		}
	}
	if !meta.ExpiresAt.IsZero() && b.now().After(meta.ExpiresAt) {
		return false
	}
	return true
}

func (b *RemoteBackend) Clear(ctx context.Context) bool {
	return b.scanAndDelete(ctx, b.prefix)
}

// DeleteByPrefix removes every key under the backend prefix that also matches
// the given logical prefix. Partial progress is kept on failure.
func (b *RemoteBackend) DeleteByPrefix(ctx context.Context, prefix string) bool {
	return b.scanAndDelete(ctx, b.prefix+prefix)
}

func (b *RemoteBackend) scanAndDelete(ctx context.Context, pattern string) bool {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	ok := true
	_, err := b.breaker.Execute(func() (any, error) {
		var cursor uint64
		for {
			keys, next, err := b.client.Scan(ctx, cursor, pattern+"*", scanBatch).Result()
			if err != nil {
				return nil, err
			}
			if len(keys) > 0 {
				if err := b.client.Del(ctx, keys...).Err(); err != nil {
					return nil, err
				}
			}
			cursor = next
			if cursor == 0 {
				return nil, nil
			}
		}
	})
	if err != nil {
		logging.Warn("redis cache bulk delete failed", zap.String("pattern", pattern), zap.Error(err))
		ok = false
	}
	return ok
}

func (b *RemoteBackend) Stats(ctx context.Context) Stats {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var stats Stats
	_, err := b.breaker.Execute(func() (any, error) {
		var cursor uint64
		for {
			keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", scanBatch).Result()
			if err != nil {
				return nil, err
			}
			if len(keys) > 0 {
				pipe := b.client.Pipeline()
				cmds := make([]*redis.SliceCmd, len(keys))
				for i, k := range keys {
					cmds[i] = pipe.HMGet(ctx, k, fieldMeta, fieldHits)
				}
				if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
					return nil, err
				}
				for _, cmd := range cmds {
					vals := cmd.Val()
					if len(vals) != 2 || (vals[0] == nil && vals[1] == nil) {
						// Key vanished between scan and fetch
						continue
					}
					stats.Entries++
					if raw, ok := vals[0].(string); ok {
						var meta Metadata
						if json.Unmarshal([]byte(raw), &meta) == nil {
							stats.Bytes += meta.Size
						}
					}
					if raw, ok := vals[1].(string); ok {
						var hits int64
						if json.Unmarshal([]byte(raw), &hits) == nil {
							stats.TotalHits += hits
						}
					}
				}
			}
			cursor = next
			if cursor == 0 {
				return nil, nil
			}
		}
	})
	if err != nil {
		logging.Warn("redis cache stats scan failed", zap.Error(err))
		return Stats{}
	}
	stats.HitRate = hitRate(stats.TotalHits, stats.Entries)
	return stats
}
