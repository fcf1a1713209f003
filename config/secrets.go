package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret has no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves credentials kept out of config files.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. KEY_FILE
// naming a readable file is honored when KEY itself is unset.
type EnvironmentSecretStore struct {
	lookup   lookupFunc
	readFile func(string) ([]byte, error)
}

func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{lookup: os.LookupEnv, readFile: os.ReadFile}
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := s.lookup(key); ok && v != "" {
		return v, nil
	}
	if path, ok := s.lookup(key + "_FILE"); ok && path != "" {
		b, err := s.readFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret %s from %s: %w", key, path, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecrets fills credential fields from store. Missing secrets leave the
// current value untouched; any other failure is returned.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	targets := []struct {
		key string
		set func(string)
	}{
		{"ADGATE_STORAGE_SQL_DSN", func(v string) { c.Storage.SQL.DSN = v }},
		{"ADGATE_STORAGE_REDIS_PASSWORD", func(v string) { c.Storage.Redis.Password = v }},
		{"ADGATE_SECURITY_JWT_SECRET", func(v string) { c.Security.JWTSecret = v }},
		{"ADGATE_WEBHOOK_SECRET", func(v string) { c.Webhooks.Secret = v }},
		{"ADGATE_SECURITY_API_KEYS", func(v string) {
			var keys []string
			for _, k := range strings.Split(v, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
			c.Security.APIKeys = keys
		}},
	}
	var errs []error
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		switch {
		case errors.Is(err, ErrSecretNotFound):
		case err != nil:
			errs = append(errs, err)
		default:
			t.set(v)
		}
	}
	return errors.Join(errs...)
}

// LoadSecretsFromEnv applies LoadSecrets with the environment store.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}
