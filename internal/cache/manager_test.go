package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type reviewVerdict struct {
	Approved bool   `json:"approved"`
	Summary  string `json:"summary"`
}

func newTestManager(t *testing.T) (*Manager, *LocalBackend, *LocalBackend) {
	t.Helper()
	l1 := NewLocalBackend(100, time.Minute)
	l2 := NewLocalBackend(1000, time.Hour)
	return NewManager(l1, l2, DefaultTTLPolicy()), l1, l2
}

func TestManagerReviewRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	in := reviewVerdict{Approved: true, Summary: "LGTM"}
	if !m.SetReviewResult(ctx, "owner/repo", 42, in, 0) {
		t.Fatal("set failed")
	}

	var out reviewVerdict
	if !m.GetReviewResult(ctx, "owner/repo", 42, &out) {
		t.Fatal("expected hit")
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestManagerScalingAnalysisKeyedByFiles(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	files := []string{"a.go", "b.go"}
	m.SetScalingAnalysis(ctx, "owner/repo", "sha1", files, map[string]int{"score": 7}, 0)

	var out map[string]int
	// Same file set in a different order is the same key
	if !m.GetScalingAnalysis(ctx, "owner/repo", "sha1", []string{"b.go", "a.go"}, &out) {
		t.Fatal("expected hit for reordered file list")
	}
	if out["score"] != 7 {
		t.Errorf("unexpected payload: %v", out)
	}

	// A different file set is a different key
	if m.GetScalingAnalysis(ctx, "owner/repo", "sha1", []string{"a.go"}, &out) {
		t.Fatal("expected miss for different file set")
	}
	// A different SHA is a different key
	if m.GetScalingAnalysis(ctx, "owner/repo", "sha2", files, &out) {
		t.Fatal("expected miss for different SHA")
	}
}

func TestManagerFileContentRaw(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	content := []byte("package main\n\nfunc main() {}\n")
	if !m.SetFileContent(ctx, "owner/repo", "main", "cmd/app/main.go", content, 0) {
		t.Fatal("set failed")
	}

	got, ok := m.GetFileContent(ctx, "owner/repo", "main", "cmd/app/main.go")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestManagerPRFiles(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	files := []string{"a.go", "b.go", "docs/readme.md"}
	m.SetPRFiles(ctx, "owner/repo", 7, files, 0)

	got, ok := m.GetPRFiles(ctx, "owner/repo", 7)
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 3 || got[2] != "docs/readme.md" {
		t.Errorf("unexpected file list: %v", got)
	}
}

func TestManagerAgentState(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	state := map[string]string{"phase": "analyzing"}
	m.SetAgentState(ctx, "owner/repo", 7, "planner", state, 0)

	var out map[string]string
	if !m.GetAgentState(ctx, "owner/repo", 7, "planner", &out) {
		t.Fatal("expected hit")
	}
	if out["phase"] != "analyzing" {
		t.Errorf("unexpected state: %v", out)
	}

	if m.GetAgentState(ctx, "owner/repo", 7, "reviewer", &out) {
		t.Fatal("expected miss for different state key")
	}
}

func TestManagerTTLBoundary(t *testing.T) {
	l1 := NewLocalBackend(100, time.Minute)
	m := NewManager(l1, nil, DefaultTTLPolicy())
	ctx := context.Background()

	base := time.Now()
	current := base
	l1.now = func() time.Time { return current }

	const ttl = 30 * time.Second
	m.SetReviewResult(ctx, "owner/repo", 1, reviewVerdict{Approved: true}, ttl)

	var out reviewVerdict
	current = base.Add(ttl - time.Millisecond)
	if !m.GetReviewResult(ctx, "owner/repo", 1, &out) {
		t.Fatal("expected hit just before TTL")
	}
	current = base.Add(ttl + time.Millisecond)
	if m.GetReviewResult(ctx, "owner/repo", 1, &out) {
		t.Fatal("expected miss just after TTL")
	}
}

func TestManagerInvalidatePR(t *testing.T) {
	m, _, l2 := newTestManager(t)
	ctx := context.Background()

	m.SetReviewResult(ctx, "owner/repo", 42, reviewVerdict{Approved: true}, 0)
	m.SetDuplicateReport(ctx, "owner/repo", 42, map[string]bool{"dup": false}, 0)
	m.SetPRFiles(ctx, "owner/repo", 42, []string{"a.go"}, 0)
	m.SetReviewResult(ctx, "owner/repo", 43, reviewVerdict{}, 0)

	if !m.InvalidatePR(ctx, "owner/repo", 42) {
		t.Fatal("invalidate failed")
	}

	var out reviewVerdict
	if m.GetReviewResult(ctx, "owner/repo", 42, &out) {
		t.Fatal("expected review gone on both tiers")
	}
	var dup map[string]bool
	if m.GetDuplicateReport(ctx, "owner/repo", 42, &dup) {
		t.Fatal("expected duplicate report gone")
	}
	if _, ok := m.GetPRFiles(ctx, "owner/repo", 42); ok {
		t.Fatal("expected PR files gone")
	}

	// Other PRs untouched
	if !m.GetReviewResult(ctx, "owner/repo", 43, &out) {
		t.Fatal("expected other PR to survive")
	}

	// Both tiers were cleaned, not just L1
	if l2.Stats(ctx).Entries != 1 {
		t.Errorf("expected 1 surviving L2 entry, got %d", l2.Stats(ctx).Entries)
	}
}

func TestManagerInvalidateRepository(t *testing.T) {
	m, l1, l2 := newTestManager(t)
	ctx := context.Background()

	m.SetScalingAnalysis(ctx, "repoA", "sha1", []string{"a.go"}, map[string]int{"n": 1}, 0)
	m.SetDuplicateReport(ctx, "repoA", 1, map[string]bool{"dup": true}, 0)
	m.SetReviewResult(ctx, "repoA", 1, reviewVerdict{Approved: false}, 0)
	m.SetReviewResult(ctx, "repoB", 9, reviewVerdict{Approved: true}, 0)

	if !m.InvalidateRepository(ctx, "repoA") {
		t.Fatal("invalidate failed")
	}

	// The remote tier holds nothing for repoA anymore
	for _, key := range []string{
		m.keys.Build(nsScaling, "repoA", "sha1", FilesHash([]string{"a.go"})),
		m.keys.Build(nsDuplicates, "repoA", "1"),
		m.keys.Build(nsReview, "repoA", "1"),
	} {
		if _, ok := l2.Get(ctx, key); ok {
			t.Errorf("expected remote key %q removed", key)
		}
	}
	if _, ok := l2.Get(ctx, m.keys.Build(nsReview, "repoB", "9")); !ok {
		t.Error("expected repoB remote entry to survive")
	}

	// Documented limitation: identical keys still resident in L1 remain
	// retrievable until their own TTL elapses.
	if _, ok := l1.Get(ctx, m.keys.Build(nsReview, "repoA", "1")); !ok {
		t.Error("expected L1 entry to remain after repository invalidation")
	}
}

func TestManagerInvalidateRepositoryNoRemote(t *testing.T) {
	m := NewManager(NewLocalBackend(10, time.Minute), nil, DefaultTTLPolicy())

	if !m.InvalidateRepository(context.Background(), "repoA") {
		t.Fatal("L1-only invalidation should trivially succeed")
	}
}

func TestManagerHealthUnhealthyHitRate(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.tiered.l1Hits.Store(10)
	m.tiered.l2Hits.Store(5)
	m.tiered.misses.Store(20)

	h := m.Health(context.Background())
	if h.Healthy {
		t.Fatal("expected unhealthy at hit rate ~0.43")
	}
	if got := h.Stats.OverallHitRate; got < 0.42 || got > 0.44 {
		t.Errorf("expected hit rate ~0.4286, got %v", got)
	}
	found := false
	for _, rec := range h.Recommendations {
		if strings.Contains(rec, "tune cache") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected tuning recommendation, got %v", h.Recommendations)
	}
}

func TestManagerHealthL1Sizing(t *testing.T) {
	l1 := NewLocalBackend(100, time.Minute)
	m := NewManager(l1, nil, DefaultTTLPolicy())
	ctx := context.Background()

	for i := 0; i < 95; i++ {
		l1.Set(ctx, fmt.Sprintf("k%d", i), []byte("x"), 0)
	}
	// Keep the hit rate healthy so only the sizing recommendation fires
	m.tiered.l1Hits.Store(100)

	h := m.Health(ctx)
	if !h.Healthy {
		t.Fatal("a full L1 alone must not mark the cache unhealthy")
	}
	found := false
	for _, rec := range h.Recommendations {
		if strings.Contains(rec, "increase L1 size") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sizing recommendation, got %v", h.Recommendations)
	}
}

func TestManagerHealthNoTraffic(t *testing.T) {
	m, _, _ := newTestManager(t)

	h := m.Health(context.Background())
	if !h.Healthy {
		t.Fatal("an idle cache is healthy")
	}
	if len(h.Recommendations) != 0 {
		t.Errorf("expected no recommendations, got %v", h.Recommendations)
	}
}

func TestManagerWarm(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var calls atomic.Int32
	ok := func(ctx context.Context, repo string, pr int, files []string) error {
		calls.Add(1)
		if !m.SetPRFiles(ctx, repo, pr, files, 0) {
			return errors.New("cache write failed")
		}
		return nil
	}
	failing := func(context.Context, string, int, []string) error {
		calls.Add(1)
		return errors.New("upstream unavailable")
	}

	err := m.Warm(ctx, "owner/repo", 5, []string{"a.go"}, []WarmFunc{ok, failing, ok})
	if err == nil {
		t.Fatal("expected joined warm error")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("a failing warm function must not abort the others; %d of 3 ran", got)
	}

	// The successful functions still populated the cache
	if _, ok := m.GetPRFiles(ctx, "owner/repo", 5); !ok {
		t.Fatal("expected warmed PR files present")
	}
}

func TestManagerWarmEmpty(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Warm(context.Background(), "owner/repo", 1, nil, nil); err != nil {
		t.Fatalf("empty warm must succeed, got %v", err)
	}
}
