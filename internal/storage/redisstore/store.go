// Package redisstore implements storage.Storage on a Redis hash so several
// processes on one host can share the same durable session storage.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfeidau/storefront/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

const (
	// DefaultHashKey is the Redis hash holding all items.
	DefaultHashKey = "storefront:storage"

	defaultOpTimeout = 2 * time.Second
)

// Config configures the Redis-backed store.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is optional.
	Password string
	// DB selects the Redis database.
	DB int
	// HashKey is the hash holding all items. Default: storefront:storage
	HashKey string
	// OpTimeout bounds each Redis call. Default: 2s
	OpTimeout time.Duration
}

// Store implements storage.Storage using one Redis hash.
type Store struct {
	rdb       redis.UniversalClient
	hashKey   string
	opTimeout time.Duration
}

// New connects to Redis using cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return NewWithClient(rdb, cfg.HashKey, cfg.OpTimeout), nil
}

// NewWithClient wraps an existing client. Empty hashKey and zero timeout use defaults.
func NewWithClient(rdb redis.UniversalClient, hashKey string, opTimeout time.Duration) *Store {
	if hashKey == "" {
		hashKey = DefaultHashKey
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Store{rdb: rdb, hashKey: hashKey, opTimeout: opTimeout}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) GetItem(key string) (string, bool, error) {
	ctx, cancel := s.context()
	defer cancel()

	v, err := s.rdb.HGet(ctx, s.hashKey, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, wrap("get", err)
	}
	return v, true, nil
}

func (s *Store) SetItem(key, value string) error {
	ctx, cancel := s.context()
	defer cancel()

	if err := s.rdb.HSet(ctx, s.hashKey, key, value).Err(); err != nil {
		return wrap("set", err)
	}
	return nil
}

func (s *Store) RemoveItem(key string) error {
	ctx, cancel := s.context()
	defer cancel()

	if err := s.rdb.HDel(ctx, s.hashKey, key).Err(); err != nil {
		return wrap("remove", err)
	}
	return nil
}

func (s *Store) Key(index int) (string, bool, error) {
	ctx, cancel := s.context()
	defer cancel()

	keys, err := s.rdb.HKeys(ctx, s.hashKey).Result()
	if err != nil {
		return "", false, wrap("keys", err)
	}

	sort.Strings(keys)
	if index < 0 || index >= len(keys) {
		return "", false, nil
	}
	return keys[index], true, nil
}

func (s *Store) Length() (int, error) {
	ctx, cancel := s.context()
	defer cancel()

	n, err := s.rdb.HLen(ctx, s.hashKey).Result()
	if err != nil {
		return 0, wrap("length", err)
	}
	return int(n), nil
}

func (s *Store) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: redis %s failed: %v", storage.ErrUnavailable, op, err)
}
