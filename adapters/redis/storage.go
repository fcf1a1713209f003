package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"adgate/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"ADGATE_STORAGE_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"ADGATE_STORAGE_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"ADGATE_STORAGE_REDIS_DB"`
	KeyPrefix    string        `json:"key_prefix" env:"ADGATE_STORAGE_REDIS_KEY_PREFIX"`
	PoolSize     int           `json:"pool_size" env:"ADGATE_STORAGE_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"ADGATE_STORAGE_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"ADGATE_STORAGE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"ADGATE_STORAGE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"ADGATE_STORAGE_REDIS_WRITE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "adgate",
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store keeps preferences in Redis.
// Data structure:
// - {prefix}:prefs:ads_enabled -> "1" | "0"
// - {prefix}:prefs:updated -> RFC3339 timestamp of the last write
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: config.KeyPrefix}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return "prefs:" + name
	}
	return s.prefix + ":prefs:" + name
}

// ReadAdsEnabled returns core.ErrPreferenceNotSet when the key is absent.
func (s *Store) ReadAdsEnabled(ctx context.Context) (bool, error) {
	raw, err := s.client.Get(ctx, s.key("ads_enabled")).Result()
	if errors.Is(err, redis.Nil) {
		return core.DefaultAdsEnabled, core.ErrPreferenceNotSet
	}
	if err != nil {
		return core.DefaultAdsEnabled, fmt.Errorf("failed to read ads preference: %w", err)
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return core.DefaultAdsEnabled, fmt.Errorf("invalid ads preference %q: %w", raw, err)
	}
	return v, nil
}

// WriteAdsEnabled stores the flag and its timestamp in one transaction.
func (s *Store) WriteAdsEnabled(ctx context.Context, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("ads_enabled"), val, 0)
		pipe.Set(ctx, s.key("updated"), time.Now().UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write ads preference: %w", err)
	}
	return nil
}
