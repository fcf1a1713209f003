// Package adgate assembles a rewarded-ad gate controller from its parts.
package adgate

import (
	"context"
	"log/slog"

	"adgate/adapters/memory"
	"adgate/adapters/simulated"
	"adgate/core"
	"adgate/engine"
	"adgate/realtime"
)

// Option configures the controller builder.
type Option func(*config)

type config struct {
	store    engine.PreferenceStore
	provider engine.AdProvider
	mode     engine.DispatchMode
	hub      *realtime.Hub
	handlers []eventHandler
	ctrl     engine.ControllerConfig
}

type eventHandler struct {
	types []core.EventType
	fn    func(context.Context, core.Event)
}

// WithPreferenceStore sets where the ads-enabled flag is persisted.
func WithPreferenceStore(s engine.PreferenceStore) Option { return func(c *config) { c.store = s } }

// WithProvider sets the ad network.
func WithProvider(p engine.AdProvider) Option { return func(c *config) { c.provider = p } }

// WithUnitID sets the ad unit requested from the provider.
func WithUnitID(id string) Option { return func(c *config) { c.ctrl.UnitID = id } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all controller events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithEventHandler subscribes fn to the given event types, or to all of them
// when types is empty.
func WithEventHandler(fn func(context.Context, core.Event), types ...core.EventType) Option {
	return func(c *config) {
		if fn == nil {
			return
		}
		if len(types) == 0 {
			types = core.AllEventTypes
		}
		c.handlers = append(c.handlers, eventHandler{types: types, fn: fn})
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.ctrl.Logger = l } }

func WithRetryPolicy(p engine.RetryPolicy) Option { return func(c *config) { c.ctrl.Retry = p } }

// WithDenyOnDismiss withholds access when an ad is closed before its reward.
func WithDenyOnDismiss(deny bool) Option { return func(c *config) { c.ctrl.DenyOnDismiss = deny } }

// New builds a Controller. The stored preference is read before New returns.
// If not provided, defaults are used:
//   - preference store: in-memory
//   - provider: simulated network with default rates
//   - dispatch: async
//   - retry: engine.DefaultRetryPolicy
//
// Call Initialize on the result to start pre-fetching.
func New(ctx context.Context, opts ...Option) *engine.Controller {
	cfg := &config{
		mode: engine.DispatchAsync,
		ctrl: engine.ControllerConfig{UnitID: "rewarded-default", Retry: engine.DefaultRetryPolicy()},
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.provider == nil {
		cfg.provider = simulated.New(simulated.DefaultConfig())
	}
	log := cfg.ctrl.Logger
	if log == nil {
		log = slog.Default()
	}

	bus := engine.NewEventBus(cfg.mode)
	if cfg.hub != nil {
		// Bridge every controller event to realtime subscribers.
		hub := cfg.hub
		bus.SubscribeMany(core.AllEventTypes, func(ctx context.Context, e core.Event) { hub.Broadcast(ctx, e) })
	}
	for _, h := range cfg.handlers {
		bus.SubscribeMany(h.types, h.fn)
	}
	prefs := engine.NewPreferences(ctx, cfg.store, bus, log)
	counter := engine.NewEngagementCounter(bus)
	if cfg.hub != nil {
		// Seed replay so the first subscriber sees the resolved preference and count.
		cfg.hub.Broadcast(ctx, core.NewAdsEnabledChanged(prefs.AdsEnabled()))
		cfg.hub.Broadcast(ctx, core.NewEngagementRecorded(counter.Count()))
	}
	return engine.NewController(cfg.provider, prefs, counter, bus, cfg.ctrl)
}
