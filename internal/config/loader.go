package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors.
func (l *Loader) validate(cfg *Config) error {
	validLevels := map[string]bool{
		"": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	if cfg.Cache.L1.MaxEntries < 0 {
		return fmt.Errorf("cache.l1.max_entries must not be negative")
	}
	if cfg.Cache.L1.TTL < 0 {
		return fmt.Errorf("cache.l1.ttl must not be negative")
	}
	if cfg.Cache.L2.TTL < 0 {
		return fmt.Errorf("cache.l2.ttl must not be negative")
	}
	if cfg.Cache.L2.TTL > 0 && cfg.Cache.L1.TTL > cfg.Cache.L2.TTL {
		return fmt.Errorf("cache.l1.ttl (%s) must not exceed cache.l2.ttl (%s)",
			cfg.Cache.L1.TTL, cfg.Cache.L2.TTL)
	}
	if cfg.Cache.L2.KeyPrefix == "" {
		return fmt.Errorf("cache.l2.key_prefix is required")
	}

	if cfg.Redis.Address != "" {
		if cfg.Redis.DB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
		if cfg.Redis.PoolSize < 0 {
			return fmt.Errorf("redis.pool_size must not be negative")
		}
	}

	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when admin is enabled")
	}

	return nil
}
