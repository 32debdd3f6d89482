package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/config"
	"github.com/wolfeidau/storefront/internal/lifecycle"
	"github.com/wolfeidau/storefront/internal/logger"
	"github.com/wolfeidau/storefront/internal/provider/gotrue"
	"github.com/wolfeidau/storefront/internal/signin"
	"github.com/wolfeidau/storefront/internal/snapshot"
	"github.com/wolfeidau/storefront/internal/storage"
)

var errNoProvider = errors.New("provider url is required (--provider-url, STOREFRONT_PROVIDER_URL or provider.url in the config file)")

type Globals struct {
	Debug   bool
	Version string
	Options Options

	// Stdout receives command output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Options are shared by every command. Flags override the config file.
type Options struct {
	Config string `help:"path to YAML config file" type:"path" env:"STOREFRONT_CONFIG"`

	ProviderURL string `help:"identity provider project URL" env:"STOREFRONT_PROVIDER_URL"`
	APIKey      string `help:"identity provider anon key" name:"api-key" env:"STOREFRONT_API_KEY"`

	Storage    string `help:"storage medium (file, memory or redis)" env:"STOREFRONT_STORAGE"`
	StorageDir string `help:"directory for file storage" type:"path" env:"STOREFRONT_STORAGE_DIR"`
	RedisAddr  string `help:"redis address for redis storage" env:"STOREFRONT_REDIS_ADDR"`

	Store              string `help:"data store (memory, sqlite or postgres)" env:"STOREFRONT_STORE_TYPE"`
	SQLitePath         string `help:"SQLite database path" name:"sqlite-path" env:"STOREFRONT_SQLITE_PATH"`
	PostgresConnString string `help:"PostgreSQL connection string" name:"postgres-conn-string" env:"POSTGRES_CONNECTION_STRING"`
}

func (g *Globals) out() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// loadConfig reads the config file and applies flag overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.Options.Config)
	if err != nil {
		return nil, err
	}

	o := g.Options
	if o.ProviderURL != "" {
		cfg.Provider.URL = o.ProviderURL
	}
	if o.APIKey != "" {
		cfg.Provider.APIKey = o.APIKey
	}
	if o.Storage != "" {
		cfg.Storage.Type = o.Storage
	}
	if o.StorageDir != "" {
		cfg.Storage.Dir = o.StorageDir
	}
	if o.RedisAddr != "" {
		cfg.Storage.Redis.Addr = o.RedisAddr
	}
	if o.Store != "" {
		cfg.Store.Type = o.Store
	}
	if o.SQLitePath != "" {
		cfg.Store.SQLite.Path = o.SQLitePath
	}
	if o.PostgresConnString != "" {
		cfg.Store.Postgres.ConnString = o.PostgresConnString
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// env holds everything a command needs, opened from the config.
type env struct {
	cfg      *config.Config
	storage  storage.Storage
	adapter  *snapshot.Adapter
	stores   *config.Stores
	audit    *signin.Logger
	provider *gotrue.Client

	closers []func() error
}

// open builds the environment. The provider client is only created when
// withProvider is set.
func (g *Globals) open(ctx context.Context, withProvider bool) (*env, error) {
	if g.Debug {
		zlog.Logger = logger.Setup(true)
	} else {
		zlog.Logger = logger.Setup(false).Level(zerolog.WarnLevel)
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	s, closeStorage, err := cfg.Storage.OpenStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	e.storage = s
	e.closers = append(e.closers, closeStorage)

	stores, err := cfg.Store.OpenStores(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	e.stores = stores
	e.closers = append(e.closers, stores.Close)
	e.audit = signin.New(stores.SignIns)

	prefixes := []string{snapshot.DefaultProviderPrefix}
	if cfg.Provider.StorageKey != "" {
		prefixes = append(prefixes, cfg.Provider.StorageKey)
	}
	e.adapter = snapshot.New(s, snapshot.Options{
		SessionKey:       cfg.Storage.SessionKey,
		ProviderPrefixes: prefixes,
	})

	if withProvider {
		if cfg.Provider.URL == "" {
			e.Close()
			return nil, errNoProvider
		}

		e.provider, err = gotrue.New(gotrue.Config{
			URL:          cfg.Provider.URL,
			APIKey:       cfg.Provider.APIKey,
			StorageKey:   cfg.Provider.StorageKey,
			Storage:      s,
			ExpiryMargin: cfg.Provider.ExpiryMargin,
		})
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to create provider client: %w", err)
		}
	}

	return e, nil
}

// controller starts a lifecycle controller and waits for bootstrap.
func (e *env) controller(ctx context.Context) (*lifecycle.Controller, error) {
	c := lifecycle.New(lifecycle.Deps{
		Provider: e.provider,
		Roles:    e.stores.Users,
		Adapter:  e.adapter,
	}, e.cfg.Lifecycle)

	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-c.Ready():
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	return c, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zlog.Warn().Err(err).Msg("failed to close")
		}
	}
	e.closers = nil
}
