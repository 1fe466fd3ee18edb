// Package config loads gateway configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type rawConfig struct {
	Listen string `yaml:"listen"`
	Name   string `yaml:"name"`

	LogLevel string `yaml:"log_level"`

	RateLimit struct {
		PerMinute      int    `yaml:"per_minute"`
		KeyHeader      string `yaml:"key_header"`
		TrustForwarded bool   `yaml:"trust_forwarded_for"`
	} `yaml:"rate_limit"`

	Auth struct {
		ServerURL string `yaml:"server_url"`
		Secret    string `yaml:"secret"`
		AdminRole string `yaml:"admin_role"`
	} `yaml:"auth"`

	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`
	ServicesFile string `yaml:"services_file"`

	Health struct {
		Interval     string `yaml:"interval"`
		ProbeTimeout string `yaml:"probe_timeout"`
		Concurrency  int    `yaml:"concurrency"`
	} `yaml:"health"`

	Timeouts struct {
		Read  string `yaml:"read"`
		Write string `yaml:"write"`
	} `yaml:"timeouts"`
}

type Config struct {
	Listen string
	Name   string

	LogLevel string

	RateLimitPerMinute int
	RateLimitKeyHeader string
	TrustForwardedFor  bool

	AuthServerURL string
	AuthSecret    string
	AdminRole     string

	DatabaseURL  string
	RedisURL     string
	ServicesFile string

	HealthInterval     time.Duration
	HealthProbeTimeout time.Duration
	HealthConcurrency  int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads the YAML file at path. A missing file is not an error: the
// defaults plus environment variables are enough for a dev setup.
func Load(path string) (*Config, error) {
	rc := rawConfig{}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &rc); err != nil {
				return nil, fmt.Errorf("yaml: %w", err)
			}
		}
	}

	c := &Config{
		Listen:             strOr(rc.Listen, ":8000"),
		Name:               strOr(rc.Name, "bifrost"),
		LogLevel:           strOr(rc.LogLevel, "info"),
		RateLimitPerMinute: intOr(rc.RateLimit.PerMinute, 60),
		RateLimitKeyHeader: rc.RateLimit.KeyHeader,
		TrustForwardedFor:  rc.RateLimit.TrustForwarded,
		AuthServerURL:      rc.Auth.ServerURL,
		AuthSecret:         rc.Auth.Secret,
		AdminRole:          strOr(rc.Auth.AdminRole, "admin"),
		DatabaseURL:        rc.DatabaseURL,
		RedisURL:           rc.RedisURL,
		ServicesFile:       rc.ServicesFile,
		HealthConcurrency:  intOr(rc.Health.Concurrency, 8),
	}

	var err error
	if c.HealthInterval, err = durOr(rc.Health.Interval, 30*time.Second); err != nil {
		return nil, fmt.Errorf("health.interval: %w", err)
	}
	if c.HealthProbeTimeout, err = durOr(rc.Health.ProbeTimeout, 5*time.Second); err != nil {
		return nil, fmt.Errorf("health.probe_timeout: %w", err)
	}
	if c.ReadTimeout, err = durOr(rc.Timeouts.Read, 30*time.Second); err != nil {
		return nil, fmt.Errorf("timeouts.read: %w", err)
	}
	if c.WriteTimeout, err = durOr(rc.Timeouts.Write, 60*time.Second); err != nil {
		return nil, fmt.Errorf("timeouts.write: %w", err)
	}

	c.applyEnv()

	if c.RateLimitPerMinute <= 0 {
		return nil, fmt.Errorf("rate_limit.per_minute must be positive")
	}
	return c, nil
}

// applyEnv layers deployment environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("BIFROST_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("AUTH_SERVER_URL"); v != "" {
		c.AuthServerURL = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.AuthSecret = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SERVICES_CONFIG_PATH"); v != "" {
		c.ServicesFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

func strOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func durOr(v string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
