package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Recorder receives cache events. Implemented by metrics.Collector; a nil
// Recorder disables recording.
type Recorder interface {
	RecordTierHit(tier string)
	RecordMiss()
	RecordPromotion()
	RecordInvalidation(scope string)
	RecordWarm(failures int)
}

// TieredStats aggregates counters across both tiers. The four counters are
// monotonically increasing for the lifetime of the TieredCache.
type TieredStats struct {
	L1Hits     int64 `json:"l1_hits"`
	L2Hits     int64 `json:"l2_hits"`
	Misses     int64 `json:"misses"`
	Promotions int64 `json:"promotions"`

	// OverallHitRate is only meaningful when TotalRequests > 0.
	TotalRequests  int64   `json:"total_requests"`
	OverallHitRate float64 `json:"overall_hit_rate,omitempty"`

	L1 Stats  `json:"l1"`
	L2 *Stats `json:"l2,omitempty"`
}

// TieredCache orchestrates a fast local tier (L1) and an optional shared
// remote tier (L2): read-through with synchronous promotion, write-through
// with independent TTLs. It owns neither store's internal state, only the
// two Backend handles.
type TieredCache struct {
	local  Backend
	remote Backend // nil when no remote tier is configured

	l1Hits     atomic.Int64
	l2Hits     atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64

	recorder Recorder
}

// NewTieredCache creates a tiered cache. remote may be nil for an L1-only
// configuration.
func NewTieredCache(local, remote Backend) *TieredCache {
	return &TieredCache{local: local, remote: remote}
}

// SetRecorder attaches a metrics recorder. Must be called before the cache
// is shared across goroutines.
func (t *TieredCache) SetRecorder(r Recorder) {
	t.recorder = r
}

// Get checks L1 first, then L2. An L2 hit is promoted into L1 with L1's
// default TTL before returning, so an immediately following Get on the same
// key is served locally. Two racing promotions are a harmless idempotent
// overwrite.
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := t.local.Get(ctx, key); ok {
		t.l1Hits.Add(1)
		if t.recorder != nil {
			t.recorder.RecordTierHit("l1")
		}
		return value, true
	}

	if t.remote != nil {
		if value, ok := t.remote.Get(ctx, key); ok {
			t.l2Hits.Add(1)
			t.promotions.Add(1)
			t.local.Set(ctx, key, value, 0)
			if t.recorder != nil {
				t.recorder.RecordTierHit("l2")
				t.recorder.RecordPromotion()
			}
			return value, true
		}
	}

	t.misses.Add(1)
	if t.recorder != nil {
		t.recorder.RecordMiss()
	}
	return nil, false
}

// Set writes through both configured tiers. A ttl <= 0 applies each tier's
// own default, which is typically longer for L2 so it outlives L1 churn.
// Returns true only if every attempted write succeeded.
func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ok := t.local.Set(ctx, key, value, ttl)
	if t.remote != nil {
		ok = t.remote.Set(ctx, key, value, ttl) && ok
	}
	return ok
}

// Delete removes key from both configured tiers. Each tier is always
// attempted even if the other failed.
func (t *TieredCache) Delete(ctx context.Context, key string) bool {
	ok := t.local.Delete(ctx, key)
	if t.remote != nil {
		remoteOK := t.remote.Delete(ctx, key)
		ok = ok && remoteOK
	}
	return ok
}

// Exists reports whether key is live in any configured tier.
func (t *TieredCache) Exists(ctx context.Context, key string) bool {
	if t.local.Exists(ctx, key) {
		return true
	}
	if t.remote != nil {
		return t.remote.Exists(ctx, key)
	}
	return false
}

// Clear wipes both configured tiers.
func (t *TieredCache) Clear(ctx context.Context) bool {
	ok := t.local.Clear(ctx)
	if t.remote != nil {
		remoteOK := t.remote.Clear(ctx)
		ok = ok && remoteOK
	}
	return ok
}

// Stats returns the aggregate counters plus per-tier storage statistics.
func (t *TieredCache) Stats(ctx context.Context) TieredStats {
	stats := TieredStats{
		L1Hits:     t.l1Hits.Load(),
		L2Hits:     t.l2Hits.Load(),
		Misses:     t.misses.Load(),
		Promotions: t.promotions.Load(),
		L1:         t.local.Stats(ctx),
	}
	stats.TotalRequests = stats.L1Hits + stats.L2Hits + stats.Misses
	if stats.TotalRequests > 0 {
		stats.OverallHitRate = float64(stats.L1Hits+stats.L2Hits) / float64(stats.TotalRequests)
	}
	if t.remote != nil {
		remote := t.remote.Stats(ctx)
		stats.L2 = &remote
	}
	return stats
}
