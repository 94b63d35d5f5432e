package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/crabdrop/internal/airdrop"
	"github.com/sawpanic/crabdrop/internal/executor"
	"github.com/sawpanic/crabdrop/internal/infrastructure/db"
	atomicio "github.com/sawpanic/crabdrop/internal/io"
	"github.com/sawpanic/crabdrop/internal/secrets"
)

// EnvPrefix prefixes every service environment override
const EnvPrefix = "CRABDROP"

// AppConfig represents the overall service configuration
type AppConfig struct {
	Server    ServerSection    `yaml:"server"`
	Database  db.Config        `yaml:"database"`
	Airdrop   airdrop.Config   `yaml:"airdrop"`
	Executor  executor.Config  `yaml:"executor"`
	Redis     RedisSection     `yaml:"redis"`
	RateLimit RateLimitSection `yaml:"rate_limit"`
	Log       LogSection       `yaml:"log"`
}

// ServerSection holds HTTP listener settings
type ServerSection struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy"`
}

// RedisSection holds the strict cap budget connection. Only used in strict mode.
type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RateLimitSection bounds verify attempts per client address
type RateLimitSection struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// LogSection selects zerolog level and output format
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json or console
}

// Default returns a configuration that runs against the in-memory store
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerSection{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: db.DefaultConfig(),
		Airdrop: airdrop.Config{
			Cap:    420,
			Amount: 1000,
			Token:  "CRAB",
			Mode:   airdrop.CapModeCount,
		},
		Executor: executor.DefaultConfig(),
		Redis: RedisSection{
			Addr: "localhost:6379",
			Key:  "crabdrop:airdrop:slots",
		},
		RateLimit: RateLimitSection{
			RPS:     0.5,
			Burst:   5,
			IdleTTL: 10 * time.Minute,
		},
		Log: LogSection{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads configuration from a YAML file over the defaults, then applies
// environment overrides and resolves secrets. A missing file is not an error.
func Load(ctx context.Context, configPath string) (*AppConfig, error) {
	config := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}

			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(config)

	provider := secrets.NewEnvProvider(EnvPrefix)
	secret, err := secrets.Resolve(ctx, provider, "executor_secret", config.Executor.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executor secret: %w", err)
	}
	config.Executor.Secret = secret

	password, err := secrets.Resolve(ctx, provider, "redis_password", config.Redis.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve redis password: %w", err)
	}
	config.Redis.Password = password

	return config, nil
}

// applyEnvOverrides applies environment variable overrides. PG_* follows the
// database convention; everything else uses CRABDROP_*.
func applyEnvOverrides(config *AppConfig) {
	envString("PG_DSN", &config.Database.DSN)
	envBool("PG_ENABLED", &config.Database.Enabled)
	envInt("PG_MAX_OPEN_CONNS", &config.Database.MaxOpenConns)
	envInt("PG_MAX_IDLE_CONNS", &config.Database.MaxIdleConns)
	envDuration("PG_CONN_MAX_LIFETIME", &config.Database.ConnMaxLifetime)
	envDuration("PG_CONN_MAX_IDLE_TIME", &config.Database.ConnMaxIdleTime)
	envDuration("PG_QUERY_TIMEOUT", &config.Database.QueryTimeout)

	envString("CRABDROP_ADDR", &config.Server.Addr)

	envInt64("CRABDROP_AIRDROP_CAP", &config.Airdrop.Cap)
	envInt64("CRABDROP_AIRDROP_AMOUNT", &config.Airdrop.Amount)
	envString("CRABDROP_AIRDROP_TOKEN", &config.Airdrop.Token)
	if mode := os.Getenv("CRABDROP_CAP_MODE"); mode != "" {
		config.Airdrop.Mode = airdrop.CapMode(mode)
	}

	envString("CRABDROP_EXECUTOR_ENDPOINT", &config.Executor.Endpoint)
	envDuration("CRABDROP_EXECUTOR_TIMEOUT", &config.Executor.Timeout)

	envString("CRABDROP_REDIS_ADDR", &config.Redis.Addr)

	envString("CRABDROP_LOG_LEVEL", &config.Log.Level)
	envString("CRABDROP_LOG_FORMAT", &config.Log.Format)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if raw := os.Getenv(key); raw != "" {
		if val, err := strconv.ParseBool(raw); err == nil {
			*dst = val
		}
	}
}

func envInt(key string, dst *int) {
	if raw := os.Getenv(key); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil {
			*dst = val
		}
	}
}

func envInt64(key string, dst *int64) {
	if raw := os.Getenv(key); raw != "" {
		if val, err := strconv.ParseInt(raw, 10, 64); err == nil {
			*dst = val
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if raw := os.Getenv(key); raw != "" {
		if val, err := time.ParseDuration(raw); err == nil {
			*dst = val
		}
	}
}

// Save writes the configuration to a YAML file. Secrets are never written.
func Save(config *AppConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomicio.WriteFileAtomic(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// Validate validates the settings every command needs
func (c *AppConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Airdrop.Validate(); err != nil {
		return fmt.Errorf("airdrop: %w", err)
	}

	if c.Airdrop.Mode == airdrop.CapModeStrict {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis: addr is required for strict cap mode")
		}
		if c.Redis.Key == "" {
			return fmt.Errorf("redis: key is required for strict cap mode")
		}
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: rps and burst cannot be negative")
	}

	return nil
}

// ValidateServe additionally checks what the HTTP service needs to disburse
func (c *AppConfig) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}

	if c.Executor.Endpoint == "" {
		return fmt.Errorf("executor: endpoint is required")
	}
	u, err := url.Parse(c.Executor.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("executor: endpoint %q is not an http(s) URL", c.Executor.Endpoint)
	}

	if c.Executor.Secret == "" {
		return fmt.Errorf("executor: shared secret is required (set %s_EXECUTOR_SECRET)", EnvPrefix)
	}

	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor: timeout must be positive")
	}

	// A request must outlive the executor call and its response must fit in the write deadline
	if c.Server.RequestTimeout > 0 && c.Executor.Timeout >= c.Server.RequestTimeout {
		return fmt.Errorf("executor: timeout %s must be shorter than server request_timeout %s",
			c.Executor.Timeout, c.Server.RequestTimeout)
	}
	if c.Server.WriteTimeout > 0 {
		if c.Server.RequestTimeout >= c.Server.WriteTimeout {
			return fmt.Errorf("server: request_timeout %s must be shorter than write_timeout %s",
				c.Server.RequestTimeout, c.Server.WriteTimeout)
		}
		if c.AirdropTimeout() >= c.Server.WriteTimeout {
			return fmt.Errorf("server: write_timeout %s must exceed the airdrop bound %s (executor timeout plus two query timeouts)",
				c.Server.WriteTimeout, c.AirdropTimeout())
		}
	}

	return nil
}

// AirdropTimeout bounds the airdrop step after a verification commits: the executor
// call plus the reservation and receipt writes
func (c *AppConfig) AirdropTimeout() time.Duration {
	return c.Executor.Timeout + 2*c.Database.QueryTimeout
}
