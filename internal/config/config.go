package config

import (
	"time"
)

// Config represents the complete revcache configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Redis   RedisConfig   `yaml:"redis"`
	Cache   CacheConfig   `yaml:"cache"`
	Admin   AdminConfig   `yaml:"admin"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig defines the remote-tier connection. An empty address disables
// the remote tier entirely; the cache then runs L1-only.
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	TLS         bool          `yaml:"tls"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// CacheConfig defines both tiers and the per-kind TTL policy.
type CacheConfig struct {
	L1   L1Config  `yaml:"l1"`
	L2   L2Config  `yaml:"l2"`
	TTLs TTLConfig `yaml:"ttls"`
}

// L1Config bounds the process-local tier.
type L1Config struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// L2Config tunes the shared remote tier. The default TTL is meant to be
// longer than L1's so remote entries outlive local churn.
type L2Config struct {
	KeyPrefix      string        `yaml:"key_prefix"`
	TTL            time.Duration `yaml:"ttl"`
	CompressionMin int           `yaml:"compression_min"` // bytes; 0 = default, negative disables
}

// TTLConfig overrides the default TTL per result kind. A zero value keeps
// the kind default.
type TTLConfig struct {
	ScalingAnalysis time.Duration `yaml:"scaling_analysis"`
	Duplicates      time.Duration `yaml:"duplicates"`
	Review          time.Duration `yaml:"review"`
	FileContent     time.Duration `yaml:"file_content"`
	PRFiles         time.Duration `yaml:"pr_files"`
	AgentState      time.Duration `yaml:"agent_state"`
}

// AdminConfig defines the optional admin/diagnostics HTTP server.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Redis: RedisConfig{
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			L1: L1Config{
				MaxEntries: 1000,
				TTL:        5 * time.Minute,
			},
			L2: L2Config{
				KeyPrefix: "revcache:",
				TTL:       time.Hour,
			},
		},
		Admin: AdminConfig{Address: ":8089"},
	}
}
