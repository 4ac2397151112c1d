package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/revware/revcache/internal/admin"
	"github.com/revware/revcache/internal/cache"
	"github.com/revware/revcache/internal/config"
	"github.com/revware/revcache/internal/logging"
	"github.com/revware/revcache/internal/metrics"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/revcache.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	showStats := flag.Bool("stats", false, "Print cache statistics and exit")
	showHealth := flag.Bool("health", false, "Print cache health and exit")
	invalidateRepo := flag.String("invalidate-repo", "", "Invalidate all remote-tier entries for a repository")
	invalidatePR := flag.String("invalidate-pr", "", "Invalidate PR-scoped entries, e.g. owner/repo#42")
	serve := flag.Bool("serve", false, "Run the admin/diagnostics HTTP server")
	flag.Parse()

	if *showVersion {
		fmt.Printf("revcache %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	manager, collector := buildManager(cfg)
	ctx := context.Background()

	switch {
	case *showStats:
		printJSON(manager.Tiered().Stats(ctx))

	case *showHealth:
		health := manager.Health(ctx)
		printJSON(health)
		if !health.Healthy {
			os.Exit(1)
		}

	case *invalidateRepo != "":
		if !manager.InvalidateRepository(ctx, *invalidateRepo) {
			fmt.Fprintf(os.Stderr, "Invalidation for %s incomplete; remote entries may remain\n", *invalidateRepo)
			os.Exit(1)
		}
		fmt.Printf("Invalidated remote cache for %s\n", *invalidateRepo)

	case *invalidatePR != "":
		repo, pr, err := parsePRRef(*invalidatePR)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		if !manager.InvalidatePR(ctx, repo, pr) {
			fmt.Fprintf(os.Stderr, "Invalidation for %s#%d incomplete\n", repo, pr)
			os.Exit(1)
		}
		fmt.Printf("Invalidated cache for %s#%d\n", repo, pr)

	case *serve:
		runAdmin(cfg, manager, collector)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func buildManager(cfg *config.Config) (*cache.Manager, *metrics.Collector) {
	local := cache.NewLocalBackend(cfg.Cache.L1.MaxEntries, cfg.Cache.L1.TTL)

	var remote cache.Backend
	if cfg.Redis.Address != "" {
		opts := &redis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		}
		if cfg.Redis.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		remote = cache.NewRemoteBackend(client, cfg.Cache.L2.KeyPrefix, cfg.Cache.L2.TTL, cfg.Cache.L2.CompressionMin)
		logging.Info("remote cache tier enabled", zap.String("address", cfg.Redis.Address))
	} else {
		logging.Info("no redis address configured, running L1-only")
	}

	manager := cache.NewManager(local, remote, ttlPolicy(cfg))
	collector := metrics.NewCollector()
	manager.SetRecorder(collector)
	return manager, collector
}

func ttlPolicy(cfg *config.Config) cache.TTLPolicy {
	ttls := cache.DefaultTTLPolicy()
	if v := cfg.Cache.TTLs.ScalingAnalysis; v > 0 {
		ttls.ScalingAnalysis = v
	}
	if v := cfg.Cache.TTLs.Duplicates; v > 0 {
		ttls.Duplicates = v
	}
	if v := cfg.Cache.TTLs.Review; v > 0 {
		ttls.Review = v
	}
	if v := cfg.Cache.TTLs.FileContent; v > 0 {
		ttls.FileContent = v
	}
	if v := cfg.Cache.TTLs.PRFiles; v > 0 {
		ttls.PRFiles = v
	}
	if v := cfg.Cache.TTLs.AgentState; v > 0 {
		ttls.AgentState = v
	}
	return ttls
}

func parsePRRef(ref string) (string, int, error) {
	repo, num, ok := strings.Cut(ref, "#")
	if !ok || repo == "" {
		return "", 0, fmt.Errorf("invalid PR reference %q, expected owner/repo#number", ref)
	}
	pr, err := strconv.Atoi(num)
	if err != nil || pr <= 0 {
		return "", 0, fmt.Errorf("invalid PR number in %q", ref)
	}
	return repo, pr, nil
}

func runAdmin(cfg *config.Config, manager *cache.Manager, collector *metrics.Collector) {
	addr := cfg.Admin.Address
	if addr == "" {
		addr = ":8089"
	}
	srv := admin.NewServer(addr, manager, collector)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error("admin server failed", zap.Error(err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logging.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error("admin server shutdown failed", zap.Error(err))
		}
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
