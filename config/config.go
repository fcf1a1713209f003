package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"adgate/adapters/redis"
	"adgate/adapters/simulated"
	"adgate/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"ADGATE_ENV"`
	Profile     string      `json:"profile" env:"ADGATE_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Preference storage configuration
	Storage StorageConfig `json:"storage"`

	// Rewarded ad configuration
	Ads AdsConfig `json:"ads"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Security configuration
	Security SecurityConfig `json:"security"`

	// Outbound event webhooks
	Webhooks WebhookConfig `json:"webhooks"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"ADGATE_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"ADGATE_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"ADGATE_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"ADGATE_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"ADGATE_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"ADGATE_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"ADGATE_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"ADGATE_SERVER_SHUTDOWN_TIMEOUT"`
	// RewardTimeout bounds how long a reward request waits for the ad to close.
	RewardTimeout     time.Duration `json:"reward_timeout" env:"ADGATE_SERVER_REWARD_TIMEOUT"`
}

// StorageConfig holds preference storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"ADGATE_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"ADGATE_STORAGE_FILE_PATH"`
}

// AdsConfig holds the rewarded ad slot configuration
type AdsConfig struct {
	Provider      string           `json:"provider" env:"ADGATE_ADS_PROVIDER"`
	UnitID        string           `json:"unit_id" env:"ADGATE_ADS_UNIT_ID"`
	DenyOnDismiss bool             `json:"deny_on_dismiss" env:"ADGATE_ADS_DENY_ON_DISMISS"`
	Retry         RetryConfig      `json:"retry"`
	Simulated     simulated.Config `json:"simulated,omitempty"`
}

// RetryConfig holds the load retry schedule
type RetryConfig struct {
	InitialInterval time.Duration `json:"initial_interval" env:"ADGATE_ADS_RETRY_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `json:"max_interval" env:"ADGATE_ADS_RETRY_MAX_INTERVAL"`
	Multiplier      float64       `json:"multiplier" env:"ADGATE_ADS_RETRY_MULTIPLIER"`
	MaxRetries      int           `json:"max_retries" env:"ADGATE_ADS_RETRY_MAX_RETRIES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"ADGATE_LOG_LEVEL"`
	Format     string            `json:"format" env:"ADGATE_LOG_FORMAT"`
	Output     string            `json:"output" env:"ADGATE_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"ADGATE_LOG_ATTRIBUTES"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"ADGATE_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"ADGATE_SECURITY_API_KEYS"`
	// JWTSecret enables HS256 bearer tokens alongside the static keys.
	JWTSecret       string          `json:"jwt_secret,omitempty" env:"ADGATE_SECURITY_JWT_SECRET"`
}

// WebhookConfig holds outbound event delivery configuration
type WebhookConfig struct {
	Endpoints   []string      `json:"endpoints,omitempty" env:"ADGATE_WEBHOOK_ENDPOINTS"`
	Events      []string      `json:"events,omitempty" env:"ADGATE_WEBHOOK_EVENTS"`
	Secret      string        `json:"secret,omitempty" env:"ADGATE_WEBHOOK_SECRET"`
	Timeout     time.Duration `json:"timeout" env:"ADGATE_WEBHOOK_TIMEOUT"`
	MaxAttempts int           `json:"max_attempts" env:"ADGATE_WEBHOOK_MAX_ATTEMPTS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"ADGATE_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"ADGATE_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"ADGATE_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Load loads configuration from environment variables and validates it.
// ADGATE_PROFILE selects the built-in profile used as the base.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if name := os.Getenv("ADGATE_PROFILE"); name != "" {
		base, err := profileConfig(name)
		if err != nil {
			return nil, err
		}
		cfg = base
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.LoadSecretsFromEnv(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file. Environment variables
// override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.LoadSecretsFromEnv(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			RewardTimeout:     90 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/adgate.json",
			},
		},
		Ads: AdsConfig{
			Provider: "simulated",
			UnitID:   "rewarded-default",
			// zero InitialInterval retries every load failure immediately
			Retry: RetryConfig{
				InitialInterval: time.Second,
				MaxInterval:     time.Minute,
				Multiplier:      2,
			},
			Simulated: simulated.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Webhooks: WebhookConfig{
			Events:      []string{"gate_decision", "reward_earned"},
			Timeout:     2 * time.Second,
			MaxAttempts: 3,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Ads.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("ads config: %v", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhooks config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Security.JWTSecret != "" {
		cfg.Security.JWTSecret = "[REDACTED]"
	}
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]string, len(cfg.Security.APIKeys))
		for i := range keys {
			keys[i] = "[REDACTED]"
		}
		cfg.Security.APIKeys = keys
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
