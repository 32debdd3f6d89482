package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/storefront/internal/lifecycle"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/storage"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StorageFile, cfg.Storage.Type)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, lifecycle.DefaultRefreshInterval, cfg.Lifecycle.RefreshInterval)
	assert.Equal(t, lifecycle.DefaultBootstrapTimeout, cfg.Lifecycle.BootstrapTimeout)
	assert.Equal(t, lifecycle.DefaultRoleRetries, cfg.Lifecycle.RoleRetries)
}

func TestParse_roleRetries(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected int
	}{
		{name: "omitted keeps the default", yaml: "lifecycle:\n  refresh_interval: 1m\n", expected: lifecycle.DefaultRoleRetries},
		{name: "explicit zero", yaml: "lifecycle:\n  role_retries: 0\n", expected: 0},
		{name: "explicit value", yaml: "lifecycle:\n  role_retries: 7\n", expected: 7},
		{name: "empty document", yaml: "", expected: lifecycle.DefaultRoleRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Lifecycle.RoleRetries)
		})
	}
}

func TestParse_authSecret(t *testing.T) {
	cfg, err := Parse([]byte("auth:\n  jwt_secret: s3cret\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  url: https://abcdefgh.supabase.co
  api_key: anon
  expiry_margin: 1m
storage:
  type: redis
  redis:
    addr: localhost:6379
    db: 2
store:
  type: sqlite
lifecycle:
  refresh_interval: 2m
  activity_debounce: 10s
  role_retries: 5
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://abcdefgh.supabase.co", cfg.Provider.URL)
	assert.Equal(t, "anon", cfg.Provider.APIKey)
	assert.Equal(t, time.Minute, cfg.Provider.ExpiryMargin)
	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, StoreSQLite, cfg.Store.Type)
	assert.Equal(t, ":memory:", cfg.Store.SQLite.Path)

	assert.Equal(t, 2*time.Minute, cfg.Lifecycle.RefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.ActivityDebounce)
	assert.Equal(t, 5, cfg.Lifecycle.RoleRetries)
	assert.Equal(t, lifecycle.DefaultHealthCheckInterval, cfg.Lifecycle.HealthCheckInterval)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_invalid(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{
			name:     "unknown key",
			yaml:     "provider:\n  uri: https://example.com\n",
			contains: "field uri not found",
		},
		{
			name:     "bad storage type",
			yaml:     "storage:\n  type: cookie\n",
			contains: "Storage.Type must be one of [file memory redis]",
		},
		{
			name:     "bad store type",
			yaml:     "store:\n  type: mysql\n",
			contains: "Store.Type must be one of [memory sqlite postgres]",
		},
		{
			name:     "bad provider url",
			yaml:     "provider:\n  url: not a url\n",
			contains: "Provider.URL must be a valid URL",
		},
		{
			name:     "redis without address",
			yaml:     "storage:\n  type: redis\n",
			contains: "storage.redis.addr is required",
		},
		{
			name:     "postgres without connection string",
			yaml:     "store:\n  type: postgres\n",
			contains: "store.postgres.conn_string is required",
		},
		{
			name:     "postgres min above max",
			yaml:     "store:\n  type: postgres\n  postgres:\n    conn_string: postgres://localhost/db\n    max_conns: 2\n    min_conns: 5\n",
			contains: "min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:     "bad duration",
			yaml:     "lifecycle:\n  refresh_interval: soon\n",
			contains: "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestParse_empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestStoreConfig_PoolConfig(t *testing.T) {
	cfg := StoreConfig{Postgres: PostgresConfig{ConnString: "postgres://localhost/db", MaxConns: 4, AutoMigrate: true}}

	pool := cfg.PoolConfig()
	assert.Equal(t, "postgres://localhost/db", pool.ConnString)
	assert.Equal(t, int32(4), pool.MaxConns)
	assert.Equal(t, int32(1), pool.MinConns)
	assert.Equal(t, 10*time.Second, pool.ConnectTimeout)
	assert.True(t, pool.AutoMigrate)
}

func TestStorageConfig_OpenStorage(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		s, closeFn, err := StorageConfig{Type: StorageMemory}.OpenStorage()
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &storage.Memory{}, s)
	})

	t.Run("file", func(t *testing.T) {
		dir := t.TempDir()
		s, closeFn, err := StorageConfig{Type: StorageFile, Dir: dir}.OpenStorage()
		require.NoError(t, err)
		defer closeFn()

		require.NoError(t, s.SetItem("k", "v"))
		assert.FileExists(t, filepath.Join(dir, "storage.json"))
	})
}

func TestStoreConfig_OpenStores(t *testing.T) {
	ctx := context.Background()

	for _, typ := range []string{StoreMemory, StoreSQLite} {
		t.Run(typ, func(t *testing.T) {
			cfg := Default()
			cfg.Store.Type = typ
			cfg.ApplyDefaults()

			stores, err := cfg.Store.OpenStores(ctx)
			require.NoError(t, err)
			defer stores.Close()

			require.NoError(t, stores.Users.PutUser(ctx, "u1", "u1@example.com", models.RoleAdmin))
			role, err := stores.Users.GetUserRole(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, models.RoleAdmin, role)
		})
	}
}
