package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"adgate/core"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

const keyAdsEnabled = "ads_enabled"

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver        `json:"driver" env:"ADGATE_STORAGE_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"ADGATE_STORAGE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"ADGATE_STORAGE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"ADGATE_STORAGE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"ADGATE_STORAGE_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `json:"auto_migrate" env:"ADGATE_STORAGE_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Validate checks the driver and DSN.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("dsn cannot be empty")
	}
	return nil
}

// Store keeps preferences in a single key/value table:
//
//	preferences(name PRIMARY KEY, value BOOLEAN, updated_at TIMESTAMP)
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and, when configured, creates the table.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the preferences table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS preferences (
	name VARCHAR(64) PRIMARY KEY,
	value BOOLEAN NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create preferences table: %w", err)
	}
	return nil
}

// ReadAdsEnabled returns core.ErrPreferenceNotSet when no row exists.
func (s *Store) ReadAdsEnabled(ctx context.Context) (bool, error) {
	var v bool
	q := s.db.Rebind(`SELECT value FROM preferences WHERE name = ?`)
	if err := s.db.GetContext(ctx, &v, q, keyAdsEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DefaultAdsEnabled, core.ErrPreferenceNotSet
		}
		return core.DefaultAdsEnabled, fmt.Errorf("failed to read ads preference: %w", err)
	}
	return v, nil
}

func (s *Store) WriteAdsEnabled(ctx context.Context, enabled bool) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO preferences (name, value, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO preferences (name, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, q, keyAdsEnabled, enabled, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write ads preference: %w", err)
	}
	return nil
}
