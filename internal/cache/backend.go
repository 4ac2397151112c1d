package cache

import (
	"context"
	"time"
)

// Stats summarizes one backend's contents.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries,omitempty"` // 0 if unbounded (e.g. Redis)
	Bytes      int64   `json:"bytes"`
	TotalHits  int64   `json:"total_hits"`
	HitRate    float64 `json:"hit_rate"` // TotalHits / max(Entries, 1), not a request-level ratio
	Evictions  int64   `json:"evictions,omitempty"`
}

// Backend abstracts one cache tier. Every operation is fail-closed: a
// transport or serialization error is logged and converted to the result a
// legitimate miss/no-op would produce. The cache must never be a cause of
// request failure.
type Backend interface {
	// Get returns the stored value, or (nil, false) on miss. A successful
	// read increments the entry's hit counter.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key. A ttl <= 0 applies the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	// Delete removes key. Returns false only on backend failure.
	Delete(ctx context.Context, key string) bool
	// Exists reports whether key holds a live entry. Agrees with Get at the
	// same instant but does not touch the hit counter.
	Exists(ctx context.Context, key string) bool
	// Clear wipes the backend's entire namespace.
	Clear(ctx context.Context) bool
	// Stats returns storage-level statistics.
	Stats(ctx context.Context) Stats
}

// PrefixDeleter is implemented by backends that can enumerate and bulk-delete
// keys sharing a prefix. The scan is not atomic with concurrent writers.
type PrefixDeleter interface {
	DeleteByPrefix(ctx context.Context, prefix string) bool
}

func hitRate(totalHits int64, entries int) float64 {
	if entries < 1 {
		entries = 1
	}
	return float64(totalHits) / float64(entries)
}

// Metadata describes a remote entry alongside its value.
type Metadata struct {
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed,omitempty"`
}
