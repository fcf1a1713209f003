package memory

import (
	"context"
	"sync"
	"time"

	"adgate/core"
)

// Store is a concurrent in-memory preference store. It survives nothing
// beyond the process and is meant for development and tests.
type Store struct {
	mu      sync.Mutex
	enabled *bool
	updated time.Time
}

func New() *Store { return &Store{} }

// NewWithValue returns a store already holding enabled.
func NewWithValue(enabled bool) *Store {
	return &Store{enabled: &enabled, updated: time.Now().UTC()}
}

func (s *Store) ReadAdsEnabled(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == nil {
		return core.DefaultAdsEnabled, core.ErrPreferenceNotSet
	}
	return *s.enabled, nil
}

func (s *Store) WriteAdsEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = &enabled
	s.updated = time.Now().UTC()
	return nil
}

// Updated reports when the value was last written.
func (s *Store) Updated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

var _ interface {
	ReadAdsEnabled(context.Context) (bool, error)
	WriteAdsEnabled(context.Context, bool) error
} = (*Store)(nil)
