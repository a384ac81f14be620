// Package config loads process configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     int    `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// LimiterBackend is "redis" or "memory".
	LimiterBackend string        `mapstructure:"LIMITER_BACKEND"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	RedisTimeout   time.Duration `mapstructure:"REDIS_TIMEOUT"`
	KeyPrefix      string        `mapstructure:"RL_KEY_PREFIX"`
	// EvictSchedule drives expiry of idle buckets in the memory backend.
	EvictSchedule  string        `mapstructure:"MEMORY_EVICT_SCHEDULE"`

	Capacity     float64 `mapstructure:"RL_CAPACITY"`
	RefillPerSec float64 `mapstructure:"RL_REFILL_PER_SEC"`
	Cost         float64 `mapstructure:"RL_COST"`
	TTLSeconds   float64 `mapstructure:"RL_TTL_SECONDS"`

	PolicyKey     string `mapstructure:"POLICY_KEY"`
	PolicyRefresh string `mapstructure:"POLICY_REFRESH"`

	AuditSampleRate float64       `mapstructure:"AUDIT_SAMPLE_RATE"`
	AuditDriver     string        `mapstructure:"AUDIT_DRIVER"`
	AuditDSN        string        `mapstructure:"AUDIT_DSN"`
	AuditTimeout    time.Duration `mapstructure:"AUDIT_TIMEOUT"`
	KafkaBrokers    string        `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string        `mapstructure:"KAFKA_TOPIC"`

	AdminKey   string `mapstructure:"ADMIN_KEY"`
	CORSOrigin string `mapstructure:"CORS_ORIGIN"`
}

var defaults = map[string]any{
	"PORT":                  3000,
	"LOG_LEVEL":             "info",
	"LIMITER_BACKEND":       "redis",
	"REDIS_URL":             "redis://127.0.0.1:6379",
	"REDIS_TIMEOUT":         "250ms",
	"RL_KEY_PREFIX":         "rl:",
	"MEMORY_EVICT_SCHEDULE": "@every 1m",
	"RL_CAPACITY":           100,
	"RL_REFILL_PER_SEC":     100.0 / 60,
	"RL_COST":               1,
	"RL_TTL_SECONDS":        120,
	"POLICY_KEY":            "rate_limit:policies",
	"POLICY_REFRESH":        "@every 30s",
	"AUDIT_SAMPLE_RATE":     0.1,
	"AUDIT_DRIVER":          "none",
	"AUDIT_DSN":             "",
	"AUDIT_TIMEOUT":         "2s",
	"KAFKA_BROKERS":         "",
	"KAFKA_TOPIC":           "throttle_audit",
	"ADMIN_KEY":             "",
	"CORS_ORIGIN":           "*",
}

// Load reads configuration from the environment, overlaid on an optional
// config file. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Capacity <= 0 {
		errs = append(errs, errors.New("RL_CAPACITY must be positive"))
	}
	if c.RefillPerSec <= 0 {
		errs = append(errs, errors.New("RL_REFILL_PER_SEC must be positive"))
	}
	if c.RedisTimeout <= 0 {
		errs = append(errs, errors.New("REDIS_TIMEOUT must be positive"))
	}
	if c.AuditSampleRate < 0 || c.AuditSampleRate > 1 {
		errs = append(errs, errors.New("AUDIT_SAMPLE_RATE must be within [0, 1]"))
	}
	switch c.LimiterBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown LIMITER_BACKEND %q", c.LimiterBackend))
	}
	switch c.AuditDriver {
	case "none", "postgres", "sqlite", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_DRIVER %q", c.AuditDriver))
	}
	return errors.Join(errs...)
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
