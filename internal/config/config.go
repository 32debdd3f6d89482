// Package config loads the YAML configuration shared by the storefront hosts.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wolfeidau/storefront/internal/lifecycle"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Storage medium types.
const (
	StorageFile   = "file"
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Data store types.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the root of the configuration file.
type Config struct {
	Provider  ProviderConfig   `yaml:"provider"`
	Auth      AuthConfig       `yaml:"auth"`
	Storage   StorageConfig    `yaml:"storage"`
	Store     StoreConfig      `yaml:"store"`
	Lifecycle lifecycle.Config `yaml:"lifecycle"`
}

// ProviderConfig points at the identity provider.
type ProviderConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key"`
	StorageKey   string        `yaml:"storage_key"`
	ExpiryMargin time.Duration `yaml:"expiry_margin" validate:"gte=0"`
}

// AuthConfig configures admin API authentication.
type AuthConfig struct {
	// JWTSecret is the identity provider's access token signing secret.
	JWTSecret string `yaml:"jwt_secret"`
}

// StorageConfig selects the durable client storage medium.
type StorageConfig struct {
	Type       string      `yaml:"type" validate:"oneof=file memory redis"`
	Dir        string      `yaml:"dir"`
	SessionKey string      `yaml:"session_key"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig is used when Storage.Type is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	HashKey  string `yaml:"hash_key"`
}

// StoreConfig selects the role and sign-in data store.
type StoreConfig struct {
	Type     string         `yaml:"type" validate:"oneof=memory sqlite postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig is used when Store.Type is sqlite.
type SQLiteConfig struct {
	// Path of the database file, ":memory:" for a private in-process database.
	Path string `yaml:"path"`
}

// PostgresConfig is used when Store.Type is postgres.
type PostgresConfig struct {
	ConnString  string        `yaml:"conn_string"`
	MaxConns    int32         `yaml:"max_conns" validate:"gte=0"`
	MinConns    int32         `yaml:"min_conns" validate:"gte=0"`
	AutoMigrate bool          `yaml:"auto_migrate"`
	Timeout     time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{Lifecycle: lifecycle.DefaultConfig()}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the YAML file at path. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result. Lifecycle
// settings absent from the document keep their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Lifecycle: lifecycle.DefaultConfig()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse YAML config: %w", ErrInvalidConfig, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = StorageFile
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.Store.Type == StoreSQLite && c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = ":memory:"
	}
	c.Lifecycle.ApplyDefaults()
}

// Validate checks field constraints and the settings each selected backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, formatValidationErrors(err))
	}

	if c.Storage.Type == StorageRedis && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("%w: storage.redis.addr is required for redis storage", ErrInvalidConfig)
	}
	if c.Store.Type == StorePostgres && c.Store.Postgres.ConnString == "" {
		return fmt.Errorf("%w: store.postgres.conn_string is required for postgres store", ErrInvalidConfig)
	}
	if pg := c.Store.Postgres; pg.MaxConns > 0 && pg.MinConns > pg.MaxConns {
		return fmt.Errorf("%w: store.postgres.min_conns (%d) cannot exceed max_conns (%d)", ErrInvalidConfig, pg.MinConns, pg.MaxConns)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := strings.TrimPrefix(fieldError.Namespace(), "Config.")
		switch fieldError.Tag() {
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", field, fieldError.Param()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", field))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fieldError.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(messages, "; ")
}
