// Package config loads server configuration from defaults, an optional YAML
// file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Redis configures the optional snapshot persistence backend.
type Redis struct {
	Addr     string        `yaml:"addr" env:"ARBOR_REDIS_ADDR"`
	Password string        `yaml:"password" env:"ARBOR_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"ARBOR_REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"ARBOR_REDIS_TTL"`
}

// Config holds the full server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"ARBOR_LISTEN_ADDR"`
	HTTPAddr   string `yaml:"http_addr" env:"ARBOR_HTTP_ADDR"`
	PoolSize   int64  `yaml:"pool_size" env:"ARBOR_POOL_SIZE"`
	LogLevel   string `yaml:"log_level" env:"ARBOR_LOG_LEVEL"`
	Evaluator  string `yaml:"evaluator" env:"ARBOR_EVALUATOR"`
	Metrics    bool   `yaml:"metrics" env:"ARBOR_METRICS"`
	Redis      Redis  `yaml:"redis"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		ListenAddr: ":7888",
		HTTPAddr:   ":7889",
		PoolSize:   16,
		LogLevel:   "info",
		Evaluator:  "lua",
		Metrics:    true,
	}
}

// Load builds the effective configuration. path may be empty to skip the
// file layer. Environment variables win over the file, which wins over
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.PoolSize < 1 {
		return Config{}, fmt.Errorf("pool_size must be at least 1, got %d", cfg.PoolSize)
	}
	return cfg, nil
}
