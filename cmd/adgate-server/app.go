package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"adgate/adapters/jsonfile"
	mem "adgate/adapters/memory"
	redisAdapter "adgate/adapters/redis"
	"adgate/adapters/simulated"
	sqlxAdapter "adgate/adapters/sqlx"
	"adgate/adgate"
	"adgate/api/httpapi"
	"adgate/config"
	"adgate/core"
	"adgate/engine"
	"adgate/integrations/webhook"
	"adgate/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Hub        *realtime.Hub
	Webhooks   *webhook.Sink
	Controller *engine.Controller
	Handler    http.Handler
	Server     *http.Server
}

func provideConfig() (*config.Config, error) {
	if path := os.Getenv("ADGATE_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(cfg *config.Config, logger *slog.Logger) (engine.PreferenceStore, func(), error) {
	store, closer, err := setupStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close preference store", "error", err)
		}
	}
	return store, cleanup, nil
}

func provideProvider(cfg *config.Config) (engine.AdProvider, error) {
	switch cfg.Ads.Provider {
	case "simulated":
		return simulated.New(cfg.Ads.Simulated), nil
	default:
		return nil, fmt.Errorf("unknown ad provider: %s", cfg.Ads.Provider)
	}
}

// provideWebhooks starts the outbound event sink. With no endpoints it accepts
// and discards events.
func provideWebhooks(cfg *config.Config, logger *slog.Logger) (*webhook.Sink, func()) {
	w := cfg.Webhooks
	sink := webhook.New(w.Endpoints,
		webhook.WithClient(&http.Client{Timeout: w.Timeout}),
		webhook.WithSecret(w.Secret),
		webhook.WithRetry(uint(w.MaxAttempts), 0),
		webhook.WithLogger(logger.With("component", "webhook")),
	)
	return sink, sink.Close
}

func webhookEvents(names []string) []core.EventType {
	if len(names) == 0 {
		return webhook.DefaultEvents
	}
	types := make([]core.EventType, 0, len(names))
	for _, n := range names {
		types = append(types, core.EventType(n))
	}
	return types
}

func provideController(ctx context.Context, cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, store engine.PreferenceStore, provider engine.AdProvider, sink *webhook.Sink) (*engine.Controller, func()) {
	r := cfg.Ads.Retry
	ctrl := adgate.New(ctx,
		adgate.WithPreferenceStore(store),
		adgate.WithProvider(provider),
		adgate.WithUnitID(cfg.Ads.UnitID),
		adgate.WithDenyOnDismiss(cfg.Ads.DenyOnDismiss),
		adgate.WithRetryPolicy(engine.RetryPolicy{
			InitialInterval: r.InitialInterval,
			MaxInterval:     r.MaxInterval,
			Multiplier:      r.Multiplier,
			MaxRetries:      r.MaxRetries,
		}),
		adgate.WithRealtime(hub),
		adgate.WithEventHandler(sink.OnEvent, webhookEvents(cfg.Webhooks.Events)...),
		adgate.WithDispatchMode(engine.DispatchAsync),
		adgate.WithLogger(logger),
	)
	return ctrl, ctrl.Close
}

func provideHandler(ctrl *engine.Controller, hub *realtime.Hub, cfg *config.Config, logger *slog.Logger) http.Handler {
	return httpapi.NewMux(ctrl, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		JWTSecret:        cfg.Security.JWTSecret,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		RewardTimeout:    cfg.Server.RewardTimeout,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}
	logger := newLogger(out, cfg.Logging)
	slog.SetDefault(logger)
	return logger
}

func newLogger(out io.Writer, lc config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(lc.Level),
	}

	switch lc.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(lc.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(lc.Attributes))
	}

	return slog.New(handler)
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the preference store selected by configuration. The
// returned closer is nil for stores holding no connections.
func setupStorage(cfg *config.Config) (engine.PreferenceStore, io.Closer, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
