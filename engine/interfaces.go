package engine

import (
	"context"

	"adgate/core"
)

// PreferenceStore abstracts durable persistence of the ads-enabled flag.
// ReadAdsEnabled reports core.ErrPreferenceNotSet when nothing has been written yet.
type PreferenceStore interface {
	ReadAdsEnabled(ctx context.Context) (bool, error)
	WriteAdsEnabled(ctx context.Context, enabled bool) error
}

// AdProvider is the rewarded-ad network. Both calls return immediately; results
// arrive through the callbacks, possibly on the provider's own goroutines.
type AdProvider interface {
	// Load resolves done exactly once.
	Load(ctx context.Context, unitID string, done func(core.LoadResult))
	// Show presents a loaded ad and reports zero or more notifications through emit.
	Show(ctx context.Context, handle core.AdHandle, emit func(core.ShowEvent))
}
