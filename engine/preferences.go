package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"adgate/core"
)

// Preferences is the cached, reactive view of the ads-enabled flag.
// Reads never fail: an unreadable or empty store resolves to core.DefaultAdsEnabled.
type Preferences struct {
	store PreferenceStore
	bus   *EventBus
	log   *slog.Logger

	writeMu sync.Mutex
	enabled atomic.Bool
}

// NewPreferences primes the cache from store before returning.
func NewPreferences(ctx context.Context, store PreferenceStore, bus *EventBus, log *slog.Logger) *Preferences {
	if store == nil || bus == nil {
		panic("NewPreferences requires non-nil store and bus")
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Preferences{store: store, bus: bus, log: log}
	p.enabled.Store(core.DefaultAdsEnabled)
	p.Refresh(ctx)
	return p
}

// AdsEnabled returns the cached value without touching storage.
func (p *Preferences) AdsEnabled() bool { return p.enabled.Load() }

// Refresh re-reads the store and returns the resolved value.
func (p *Preferences) Refresh(ctx context.Context) bool {
	v, err := p.store.ReadAdsEnabled(ctx)
	switch {
	case errors.Is(err, core.ErrPreferenceNotSet):
		v = core.DefaultAdsEnabled
	case err != nil:
		p.log.Warn("ads preference unreadable, using default", "error", err, "default", core.DefaultAdsEnabled)
		v = core.DefaultAdsEnabled
	}
	p.swap(ctx, v)
	return v
}

// Set durably records enabled. The cached value only changes once the write succeeds.
func (p *Preferences) Set(ctx context.Context, enabled bool) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.store.WriteAdsEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	p.swap(ctx, enabled)
	p.log.Info("ads preference updated", "ads_enabled", enabled)
	return nil
}

func (p *Preferences) swap(ctx context.Context, v bool) {
	if old := p.enabled.Swap(v); old != v {
		p.bus.Publish(ctx, core.NewAdsEnabledChanged(v))
	}
}

// Ping reports whether the store can currently be read. An unset preference counts as healthy.
func (p *Preferences) Ping(ctx context.Context) error {
	if _, err := p.store.ReadAdsEnabled(ctx); err != nil && !errors.Is(err, core.ErrPreferenceNotSet) {
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	return nil
}
