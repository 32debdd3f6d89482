package config

import (
	"context"
	"fmt"

	"github.com/wolfeidau/storefront/internal/storage"
	"github.com/wolfeidau/storefront/internal/storage/redisstore"
	"github.com/wolfeidau/storefront/internal/store"
	"github.com/wolfeidau/storefront/internal/store/memory"
	"github.com/wolfeidau/storefront/internal/store/postgres"
	"github.com/wolfeidau/storefront/internal/store/sqlite"
)

// Stores are the data stores selected by StoreConfig.
type Stores struct {
	Users   store.UserStore
	SignIns store.SignInStore
	close   func() error
}

// Close releases the underlying connections.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage builds the storage medium selected by Type.
func (c StorageConfig) OpenStorage() (storage.Storage, func() error, error) {
	noop := func() error { return nil }

	switch c.Type {
	case StorageMemory:
		return storage.NewMemory(), noop, nil
	case StorageRedis:
		s, err := redisstore.New(redisstore.Config{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			HashKey:  c.Redis.HashKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis storage: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := storage.NewFile(c.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
}

// OpenStores opens the data store selected by Type.
func (c StoreConfig) OpenStores(ctx context.Context) (*Stores, error) {
	switch c.Type {
	case StoreSQLite:
		db, err := sqlite.Open(ctx, c.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &Stores{Users: db, SignIns: db, close: db.Close}, nil

	case StorePostgres:
		db, err := postgres.Open(ctx, c.PoolConfig())
		if err != nil {
			return nil, err
		}
		return &Stores{Users: db.Users, SignIns: db.SignIns, close: func() error {
			db.Close()
			return nil
		}}, nil

	default:
		return &Stores{Users: memory.NewUserStore(), SignIns: memory.NewSignInStore()}, nil
	}
}

// PoolConfig converts the postgres section to a pool config with defaults applied.
func (c StoreConfig) PoolConfig() *postgres.PoolConfig {
	cfg := &postgres.PoolConfig{
		ConnString:     c.Postgres.ConnString,
		MaxConns:       c.Postgres.MaxConns,
		MinConns:       c.Postgres.MinConns,
		ConnectTimeout: c.Postgres.Timeout,
		AutoMigrate:    c.Postgres.AutoMigrate,
	}
	cfg.ApplyDefaults()
	return cfg
}
