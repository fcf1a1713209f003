package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"adgate/core"
)

type document struct {
	AdsEnabled *bool     `json:"ads_enabled,omitempty"`
	Updated    time.Time `json:"updated"`
}

// Store persists preferences to a single JSON file.
// Writes go to a temporary file that is renamed into place.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("jsonfile: path cannot be empty")
	}
	return &Store{path: path}, nil
}

func (s *Store) load() (document, error) {
	var doc document
	b, err := os.ReadFile(s.path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("jsonfile: decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) persist(doc document) error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ReadAdsEnabled reports core.ErrPreferenceNotSet for a missing file or key.
// A corrupt file is returned as an error.
func (s *Store) ReadAdsEnabled(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if errors.Is(err, fs.ErrNotExist) {
		return core.DefaultAdsEnabled, core.ErrPreferenceNotSet
	}
	if err != nil {
		return core.DefaultAdsEnabled, err
	}
	if doc.AdsEnabled == nil {
		return core.DefaultAdsEnabled, core.ErrPreferenceNotSet
	}
	return *doc.AdsEnabled, nil
}

func (s *Store) WriteAdsEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := document{AdsEnabled: &enabled, Updated: time.Now().UTC()}
	if err := s.persist(doc); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", s.path, err)
	}
	return nil
}
