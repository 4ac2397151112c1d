package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
	hits      atomic.Int64
}

// LocalBackend is the process-local L1 tier: a capacity-bounded LRU with
// per-entry TTL checked lazily at read time. Safe for concurrent use.
type LocalBackend struct {
	lru        *lru.Cache[string, *localEntry]
	mu         sync.Mutex // protects compound ops (Set byte accounting, prefix scans)
	defaultTTL time.Duration
	maxEntries int
	bytes      atomic.Int64
	evictions  atomic.Int64
	now        func() time.Time
}

// NewLocalBackend creates an L1 backend with the given capacity and default
// per-entry TTL.
func NewLocalBackend(maxEntries int, defaultTTL time.Duration) *LocalBackend {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	b := &LocalBackend{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	// The callback fires for capacity evictions, Remove and Purge alike.
	c, _ := lru.NewWithEvict[string, *localEntry](maxEntries, func(key string, ent *localEntry) {
		b.bytes.Add(-int64(len(ent.value)))
		b.evictions.Add(1)
	})
	b.lru = c
	return b
}

func (b *LocalBackend) expired(ent *localEntry) bool {
	return !ent.expiresAt.IsZero() && b.now().After(ent.expiresAt)
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool) {
	ent, ok := b.lru.Get(key)
	if !ok {
		return nil, false
	}
	if b.expired(ent) {
		b.lru.Remove(key)
		return nil, false
	}
	ent.hits.Add(1)
	return ent.value, true
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	now := b.now()
	ent := &localEntry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	b.mu.Lock()
	if old, ok := b.lru.Peek(key); ok {
		// Overwrite: the LRU replaces in place without firing the
		// eviction callback, so reclaim the old bytes here.
		b.bytes.Add(-int64(len(old.value)))
	}
	b.lru.Add(key, ent)
	b.bytes.Add(int64(len(value)))
	b.mu.Unlock()
	return true
}

func (b *LocalBackend) Delete(_ context.Context, key string) bool {
	b.lru.Remove(key)
	return true
}

func (b *LocalBackend) Exists(_ context.Context, key string) bool {
	ent, ok := b.lru.Peek(key)
	if !ok {
		return false
	}
	if b.expired(ent) {
		b.lru.Remove(key)
		return false
	}
	return true
}

func (b *LocalBackend) Clear(_ context.Context) bool {
	b.lru.Purge()
	return true
}

// DeleteByPrefix removes all live keys sharing the given prefix.
func (b *LocalBackend) DeleteByPrefix(_ context.Context, prefix string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range b.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			b.lru.Remove(key)
		}
	}
	return true
}

func (b *LocalBackend) Stats(_ context.Context) Stats {
	var totalHits int64
	b.mu.Lock()
	for _, key := range b.lru.Keys() {
		if ent, ok := b.lru.Peek(key); ok {
			totalHits += ent.hits.Load()
		}
	}
	b.mu.Unlock()

	entries := b.lru.Len()
	return Stats{
		Entries:    entries,
		MaxEntries: b.maxEntries,
		Bytes:      b.bytes.Load(),
		TotalHits:  totalHits,
		HitRate:    hitRate(totalHits, entries),
		Evictions:  b.evictions.Load(),
	}
}
