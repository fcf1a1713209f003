package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"adgate/core"
)

var (
	validAdapters  = []string{"memory", "redis", "sql", "file"}
	validProviders = []string{"simulated"}
	validLevels    = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"json", "text"}
	validOutputs   = []string{"stdout", "stderr"}
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}

	for name, d := range map[string]int64{
		"read_timeout":        int64(s.ReadTimeout),
		"write_timeout":       int64(s.WriteTimeout),
		"idle_timeout":        int64(s.IdleTimeout),
		"read_header_timeout": int64(s.ReadHeaderTimeout),
		"shutdown_timeout":    int64(s.ShutdownTimeout),
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if s.RewardTimeout < 0 {
		errs = append(errs, "reward_timeout cannot be negative")
	}

	slices.Sort(errs)
	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates the ad slot configuration
func (a *AdsConfig) Validate() error {
	var errs []string

	if !slices.Contains(validProviders, a.Provider) {
		errs = append(errs, fmt.Sprintf("provider must be one of: %s", strings.Join(validProviders, ", ")))
	}
	if strings.TrimSpace(a.UnitID) == "" {
		errs = append(errs, "unit_id cannot be empty")
	}
	if err := a.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("retry: %v", err))
	}
	if a.Provider == "simulated" {
		sim := a.Simulated
		if sim.FillRate < 0 || sim.FillRate > 1 {
			errs = append(errs, "simulated.fill_rate must be within [0, 1]")
		}
		if sim.RewardRate < 0 || sim.RewardRate > 1 {
			errs = append(errs, "simulated.reward_rate must be within [0, 1]")
		}
		if sim.LoadLatency < 0 || sim.ShowDuration < 0 || sim.AdTTL < 0 {
			errs = append(errs, "simulated durations cannot be negative")
		}
	}

	return joinErrs(errs)
}

// Validate validates the retry schedule
func (r *RetryConfig) Validate() error {
	var errs []string

	if r.InitialInterval < 0 {
		errs = append(errs, "initial_interval cannot be negative")
	}
	if r.InitialInterval > 0 && r.Multiplier < 1 {
		errs = append(errs, "multiplier must be >= 1")
	}
	if r.MaxInterval > 0 && r.MaxInterval < r.InitialInterval {
		errs = append(errs, "max_interval must be >= initial_interval")
	}
	if r.MaxRetries < 0 {
		errs = append(errs, "max_retries cannot be negative")
	}

	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if !slices.Contains(validLevels, l.Level) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}
	if !slices.Contains(validFormats, l.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}
	if !slices.Contains(validOutputs, l.Output) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	return joinErrs(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string

	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}

	return joinErrs(errs)
}

// Validate validates webhook settings. Events must name controller event types.
func (w *WebhookConfig) Validate() error {
	var errs []string

	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}
	for _, ev := range w.Events {
		if !slices.Contains(core.AllEventTypes, core.EventType(ev)) {
			errs = append(errs, fmt.Sprintf("unknown event type %q", ev))
		}
	}
	if len(w.Endpoints) > 0 {
		if w.Timeout <= 0 {
			errs = append(errs, "timeout must be positive")
		}
		if w.MaxAttempts <= 0 {
			errs = append(errs, "max_attempts must be > 0")
		}
	}

	return joinErrs(errs)
}
