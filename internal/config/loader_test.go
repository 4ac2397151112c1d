package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	l := NewLoader()

	cfg, err := l.Parse([]byte(``))
	if err != nil {
		t.Fatalf("empty config should parse with defaults: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default level info, got %q", cfg.Logging.Level)
	}
	if cfg.Cache.L1.MaxEntries != 1000 {
		t.Errorf("expected default L1 max entries 1000, got %d", cfg.Cache.L1.MaxEntries)
	}
	if cfg.Cache.L2.KeyPrefix != "revcache:" {
		t.Errorf("expected default key prefix, got %q", cfg.Cache.L2.KeyPrefix)
	}
	if cfg.Redis.Address != "" {
		t.Errorf("expected remote tier disabled by default, got %q", cfg.Redis.Address)
	}
}

func TestParseFull(t *testing.T) {
	l := NewLoader()

	cfg, err := l.Parse([]byte(`
logging:
  level: debug
redis:
  address: "redis.internal:6379"
  db: 2
  pool_size: 20
cache:
  l1:
    max_entries: 500
    ttl: 2m
  l2:
    key_prefix: "rc:"
    ttl: 2h
    compression_min: 8192
  ttls:
    review: 48h
    agent_state: 30s
admin:
  enabled: true
  address: ":9100"
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Redis.Address != "redis.internal:6379" || cfg.Redis.DB != 2 {
		t.Errorf("redis config mismatch: %+v", cfg.Redis)
	}
	if cfg.Cache.L1.MaxEntries != 500 || cfg.Cache.L1.TTL != 2*time.Minute {
		t.Errorf("L1 config mismatch: %+v", cfg.Cache.L1)
	}
	if cfg.Cache.L2.TTL != 2*time.Hour || cfg.Cache.L2.CompressionMin != 8192 {
		t.Errorf("L2 config mismatch: %+v", cfg.Cache.L2)
	}
	if cfg.Cache.TTLs.Review != 48*time.Hour || cfg.Cache.TTLs.AgentState != 30*time.Second {
		t.Errorf("TTL overrides mismatch: %+v", cfg.Cache.TTLs)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Address != ":9100" {
		t.Errorf("admin config mismatch: %+v", cfg.Admin)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("TEST_REDIS_ADDR", "10.0.0.5:6379")
	defer os.Unsetenv("TEST_REDIS_ADDR")

	l := NewLoader()
	cfg, err := l.Parse([]byte(`
redis:
  address: "${TEST_REDIS_ADDR}"
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Redis.Address != "10.0.0.5:6379" {
		t.Errorf("env var not expanded: %q", cfg.Redis.Address)
	}
}

func TestParseEnvMissingKept(t *testing.T) {
	l := NewLoader()
	cfg, err := l.Parse([]byte(`
cache:
  l2:
    key_prefix: "${UNSET_VAR_XYZ}"
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Cache.L2.KeyPrefix != "${UNSET_VAR_XYZ}" {
		t.Errorf("unset env var should be kept verbatim, got %q", cfg.Cache.L2.KeyPrefix)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad level",
			yaml: "logging:\n  level: loud\n",
			want: "invalid logging level",
		},
		{
			name: "l1 ttl exceeds l2",
			yaml: "cache:\n  l1:\n    ttl: 3h\n  l2:\n    ttl: 1h\n",
			want: "must not exceed",
		},
		{
			name: "empty key prefix",
			yaml: "cache:\n  l2:\n    key_prefix: \"\"\n",
			want: "key_prefix is required",
		},
		{
			name: "negative l1 entries",
			yaml: "cache:\n  l1:\n    max_entries: -5\n",
			want: "must not be negative",
		},
		{
			name: "admin without address",
			yaml: "admin:\n  enabled: true\n  address: \"\"\n",
			want: "admin.address is required",
		},
	}

	l := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := NewLoader()
	if _, err := l.Load("/nonexistent/revcache.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/revcache.yaml"
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %q", cfg.Logging.Level)
	}
}
