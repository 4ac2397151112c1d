package metrics

import (
	"net/http"
	"strconv"
	"sync"
)

// Collector tracks cache metrics for Prometheus-compatible export.
type Collector struct {
	mu sync.RWMutex

	tierHits      map[string]int64 // key: tier ("l1", "l2")
	misses        int64
	promotions    int64
	invalidations map[string]int64 // key: scope ("repository", "pr")
	warmRuns      int64
	warmFailures  int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		tierHits:      make(map[string]int64),
		invalidations: make(map[string]int64),
	}
}

// RecordTierHit records a cache hit served by the given tier.
func (c *Collector) RecordTierHit(tier string) {
	c.mu.Lock()
	c.tierHits[tier]++
	c.mu.Unlock()
}

// RecordMiss records a request neither tier could serve.
func (c *Collector) RecordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// RecordPromotion records an L2 hit copied into L1.
func (c *Collector) RecordPromotion() {
	c.mu.Lock()
	c.promotions++
	c.mu.Unlock()
}

// RecordInvalidation records a scoped invalidation ("repository" or "pr").
func (c *Collector) RecordInvalidation(scope string) {
	c.mu.Lock()
	c.invalidations[scope]++
	c.mu.Unlock()
}

// RecordWarm records one warming run and how many of its functions failed.
func (c *Collector) RecordWarm(failures int) {
	c.mu.Lock()
	c.warmRuns++
	c.warmFailures += int64(failures)
	c.mu.Unlock()
}

// Snapshot holds a point-in-time copy of all metrics.
type Snapshot struct {
	TierHits      map[string]int64 `json:"tier_hits"`
	Misses        int64            `json:"misses"`
	Promotions    int64            `json:"promotions"`
	Invalidations map[string]int64 `json:"invalidations"`
	WarmRuns      int64            `json:"warm_runs"`
	WarmFailures  int64            `json:"warm_failures"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &Snapshot{
		TierHits:      make(map[string]int64, len(c.tierHits)),
		Misses:        c.misses,
		Promotions:    c.promotions,
		Invalidations: make(map[string]int64, len(c.invalidations)),
		WarmRuns:      c.warmRuns,
		WarmFailures:  c.warmFailures,
	}
	for k, v := range c.tierHits {
		snap.TierHits[k] = v
	}
	for k, v := range c.invalidations {
		snap.Invalidations[k] = v
	}
	return snap
}

// WritePrometheus writes metrics in Prometheus text exposition format.
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "revcache_hits_total", "Total cache hits by tier", "counter")
	for tier, count := range c.tierHits {
		writeMetric(w, "revcache_hits_total", count, "tier", tier)
	}

	writeHelp(w, "revcache_misses_total", "Total cache misses", "counter")
	writeMetric(w, "revcache_misses_total", c.misses)

	writeHelp(w, "revcache_promotions_total", "Total L2-to-L1 promotions", "counter")
	writeMetric(w, "revcache_promotions_total", c.promotions)

	writeHelp(w, "revcache_invalidations_total", "Total invalidations by scope", "counter")
	for scope, count := range c.invalidations {
		writeMetric(w, "revcache_invalidations_total", count, "scope", scope)
	}

	writeHelp(w, "revcache_warm_runs_total", "Total cache warming runs", "counter")
	writeMetric(w, "revcache_warm_runs_total", c.warmRuns)

	writeHelp(w, "revcache_warm_failures_total", "Total failed warm functions", "counter")
	writeMetric(w, "revcache_warm_failures_total", c.warmFailures)
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}
