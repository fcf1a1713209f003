package config

import (
	"fmt"
	"time"
)

// profiles adjust DefaultConfig for a deployment environment.
var profiles = map[string]func(*Config){
	"development": func(c *Config) {
		c.Environment = EnvDevelopment
		c.Logging.Level = "debug"
		c.Logging.Format = "text"
	},
	"testing": func(c *Config) {
		c.Environment = EnvTesting
		c.Logging.Level = "warn"
		c.Storage.Adapter = "memory"
		c.Ads.Retry = RetryConfig{MaxRetries: 3}
		c.Ads.Simulated.LoadLatency = 0
		c.Ads.Simulated.ShowDuration = 10 * time.Millisecond
		c.Ads.Simulated.Seed = 1
	},
	"staging": func(c *Config) {
		c.Environment = EnvStaging
		c.Storage.Adapter = "file"
		c.Security.EnableRateLimit = true
	},
	"production": func(c *Config) {
		c.Environment = EnvProduction
		c.Server.CORSOrigin = ""
		c.Storage.Adapter = "file"
		c.Storage.File.Path = "/var/lib/adgate/preferences.json"
		c.Security.EnableRateLimit = true
		c.Ads.Simulated.Seed = 0
	},
}

// profileConfig returns DefaultConfig adjusted for the named profile.
func profileConfig(name string) (*Config, error) {
	apply, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg := DefaultConfig()
	cfg.Profile = name
	apply(cfg)
	return cfg, nil
}

// LoadProfile returns the validated built-in configuration for a profile.
// Environment variables are not applied.
func LoadProfile(name string) (*Config, error) {
	cfg, err := profileConfig(name)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return cfg, nil
}
