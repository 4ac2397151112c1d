package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/revware/revcache/internal/logging"
)

// Namespace prefixes, one per result kind. Every key embeds the repository
// right after the prefix so repository-scoped invalidation can scan
// "<prefix>:<repo>:" on the remote tier.
const (
	nsScaling    = "scaling"
	nsDuplicates = "duplicates"
	nsReview     = "review"
	nsFile       = "file"
	nsPRFiles    = "prfiles"
	nsAgentState = "agent"
)

var allNamespaces = []string{nsScaling, nsDuplicates, nsReview, nsFile, nsPRFiles, nsAgentState}

// TTLPolicy holds the default TTL per result kind. Review verdicts live the
// longest, PR file listings churn fast, agent state is nearly ephemeral.
type TTLPolicy struct {
	ScalingAnalysis time.Duration
	Duplicates      time.Duration
	Review          time.Duration
	FileContent     time.Duration
	PRFiles         time.Duration
	AgentState      time.Duration
}

// DefaultTTLPolicy returns the stock per-kind TTLs.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		ScalingAnalysis: 6 * time.Hour,
		Duplicates:      6 * time.Hour,
		Review:          24 * time.Hour,
		FileContent:     time.Hour,
		PRFiles:         15 * time.Minute,
		AgentState:      5 * time.Minute,
	}
}

// Health is the result of a cache health check.
type Health struct {
	Healthy         bool        `json:"healthy"`
	Stats           TieredStats `json:"stats"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// WarmFunc populates one kind of cached result for a repository/PR ahead of
// demand. Implementations typically fetch from upstream and call the
// matching Set accessor.
type WarmFunc func(ctx context.Context, repo string, prNumber int, files []string) error

// Manager is the domain-facing cache layer: one typed accessor pair per
// result kind, repository/PR-scoped invalidation, cache warming and health
// scoring. Construct one per process and pass it to collaborators
// explicitly; tests create isolated instances.
type Manager struct {
	tiered   *TieredCache
	remote   PrefixDeleter // nil when no remote tier is configured
	keys     *KeyBuilder
	ttls     TTLPolicy
	recorder Recorder
}

// NewManager wires a manager over the given tiers. remote may be nil for an
// L1-only deployment; repository-scoped invalidation then has nothing to
// scan and trivially succeeds.
func NewManager(local, remote Backend, ttls TTLPolicy) *Manager {
	var pd PrefixDeleter
	if remote != nil {
		pd, _ = remote.(PrefixDeleter)
	}
	return &Manager{
		tiered: NewTieredCache(local, remote),
		remote: pd,
		keys:   NewKeyBuilder(),
		ttls:   ttls,
	}
}

// Tiered exposes the underlying tiered cache.
func (m *Manager) Tiered() *TieredCache {
	return m.tiered
}

// SetRecorder attaches a metrics recorder to the manager and its tiers.
// Must be called before the manager is shared across goroutines.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
	m.tiered.SetRecorder(r)
}

func (m *Manager) getJSON(ctx context.Context, key string, out any) bool {
	raw, ok := m.tiered.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logging.Error("cached payload decode failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) setJSON(ctx context.Context, key string, v any, ttl time.Duration) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		logging.Error("cache payload encode failed",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return m.tiered.Set(ctx, key, raw, ttl)
}

// GetScalingAnalysis retrieves a scaling-analysis result keyed by repository,
// head SHA and the analyzed file set, decoding it into out.
func (m *Manager) GetScalingAnalysis(ctx context.Context, repo, headSHA string, files []string, out any) bool {
	key := m.keys.Build(nsScaling, repo, headSHA, FilesHash(files))
	return m.getJSON(ctx, key, out)
}

// SetScalingAnalysis stores a scaling-analysis result. A ttl <= 0 applies
// the kind default.
func (m *Manager) SetScalingAnalysis(ctx context.Context, repo, headSHA string, files []string, v any, ttl time.Duration) bool {
	key := m.keys.Build(nsScaling, repo, headSHA, FilesHash(files))
	if ttl <= 0 {
		ttl = m.ttls.ScalingAnalysis
	}
	return m.setJSON(ctx, key, v, ttl)
}

// GetDuplicateReport retrieves a duplicate-detection report for a PR.
func (m *Manager) GetDuplicateReport(ctx context.Context, repo string, prNumber int, out any) bool {
	return m.getJSON(ctx, m.prKey(nsDuplicates, repo, prNumber), out)
}

// SetDuplicateReport stores a duplicate-detection report for a PR.
func (m *Manager) SetDuplicateReport(ctx context.Context, repo string, prNumber int, v any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttls.Duplicates
	}
	return m.setJSON(ctx, m.prKey(nsDuplicates, repo, prNumber), v, ttl)
}

// GetReviewResult retrieves a code-review verdict for a PR.
func (m *Manager) GetReviewResult(ctx context.Context, repo string, prNumber int, out any) bool {
	return m.getJSON(ctx, m.prKey(nsReview, repo, prNumber), out)
}

// SetReviewResult stores a code-review verdict for a PR.
func (m *Manager) SetReviewResult(ctx context.Context, repo string, prNumber int, v any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttls.Review
	}
	return m.setJSON(ctx, m.prKey(nsReview, repo, prNumber), v, ttl)
}

// GetFileContent retrieves a raw file snapshot at a ref. File contents are
// stored as-is, not JSON-wrapped.
func (m *Manager) GetFileContent(ctx context.Context, repo, ref, path string) ([]byte, bool) {
	key := m.keys.Build(nsFile, repo, ref, path)
	return m.tiered.Get(ctx, key)
}

// SetFileContent stores a raw file snapshot at a ref.
func (m *Manager) SetFileContent(ctx context.Context, repo, ref, path string, content []byte, ttl time.Duration) bool {
	key := m.keys.Build(nsFile, repo, ref, path)
	if ttl <= 0 {
		ttl = m.ttls.FileContent
	}
	return m.tiered.Set(ctx, key, content, ttl)
}

// GetPRFiles retrieves the cached file list of a PR.
func (m *Manager) GetPRFiles(ctx context.Context, repo string, prNumber int) ([]string, bool) {
	var files []string
	if !m.getJSON(ctx, m.prKey(nsPRFiles, repo, prNumber), &files) {
		return nil, false
	}
	return files, true
}

// SetPRFiles stores the file list of a PR.
func (m *Manager) SetPRFiles(ctx context.Context, repo string, prNumber int, files []string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttls.PRFiles
	}
	return m.setJSON(ctx, m.prKey(nsPRFiles, repo, prNumber), files, ttl)
}

// GetAgentState retrieves short-lived agent state stored under stateKey.
func (m *Manager) GetAgentState(ctx context.Context, repo string, prNumber int, stateKey string, out any) bool {
	key := m.keys.Build(nsAgentState, repo, strconv.Itoa(prNumber), stateKey)
	return m.getJSON(ctx, key, out)
}

// SetAgentState stores short-lived agent state under stateKey.
func (m *Manager) SetAgentState(ctx context.Context, repo string, prNumber int, stateKey string, v any, ttl time.Duration) bool {
	key := m.keys.Build(nsAgentState, repo, strconv.Itoa(prNumber), stateKey)
	if ttl <= 0 {
		ttl = m.ttls.AgentState
	}
	return m.setJSON(ctx, key, v, ttl)
}

func (m *Manager) prKey(ns, repo string, prNumber int) string {
	return m.keys.Build(ns, repo, strconv.Itoa(prNumber))
}

// InvalidateRepository bulk-deletes every remote-tier key of every kind for
// the repository. The local tier is deliberately left alone: its entries
// self-expire via TTL, bounding staleness without a cross-process
// invalidation channel. Returns false if any scan/delete failed, meaning
// repository-scoped remote state may still be stale; already-deleted keys
// stay deleted.
func (m *Manager) InvalidateRepository(ctx context.Context, repo string) bool {
	if m.remote == nil {
		return true
	}
	ok := true
	for _, ns := range allNamespaces {
		if !m.remote.DeleteByPrefix(ctx, ns+keyDelimiter+repo+keyDelimiter) {
			ok = false
		}
	}
	if !ok {
		logging.Warn("repository invalidation incomplete", zap.String("repo", repo))
	}
	if m.recorder != nil {
		m.recorder.RecordInvalidation("repository")
	}
	return ok
}

// InvalidatePR deletes the individually addressable PR-scoped keys (review
// verdict, duplicate report, PR file list) on both tiers. Keys that also
// embed a SHA or file-set hash cannot be named from (repo, prNumber) alone
// and are left to TTL expiry or repository invalidation.
func (m *Manager) InvalidatePR(ctx context.Context, repo string, prNumber int) bool {
	ok := true
	for _, ns := range []string{nsReview, nsDuplicates, nsPRFiles} {
		if !m.tiered.Delete(ctx, m.prKey(ns, repo, prNumber)) {
			ok = false
		}
	}
	if m.recorder != nil {
		m.recorder.RecordInvalidation("pr")
	}
	return ok
}

// Health scores the cache from its aggregate statistics.
func (m *Manager) Health(ctx context.Context) Health {
	stats := m.tiered.Stats(ctx)
	h := Health{Healthy: true, Stats: stats}

	if stats.TotalRequests > 0 && stats.OverallHitRate < 0.5 {
		h.Healthy = false
		h.Recommendations = append(h.Recommendations,
			fmt.Sprintf("overall hit rate %.2f is below 0.5; tune cache TTLs or warm more aggressively", stats.OverallHitRate))
	}
	if stats.L1.MaxEntries > 0 && float64(stats.L1.Entries) > 0.9*float64(stats.L1.MaxEntries) {
		h.Recommendations = append(h.Recommendations,
			fmt.Sprintf("L1 holds %d of %d entries; increase L1 size", stats.L1.Entries, stats.L1.MaxEntries))
	}
	return h
}

// Warm runs the given population functions concurrently for a repository/PR
// and returns once all have settled. Individual failures are collected and
// joined; they never abort the other functions.
func (m *Manager) Warm(ctx context.Context, repo string, prNumber int, files []string, fns []WarmFunc) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, fn := range fns {
		g.Go(func() error {
			if err := fn(ctx, repo, prNumber, files); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				logging.Warn("cache warm function failed",
					zap.String("repo", repo), zap.Int("pr", prNumber), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait() // individual errors are collected above
	if m.recorder != nil {
		m.recorder.RecordWarm(len(errs))
	}
	return errors.Join(errs...)
}
