package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/rs/cors"
	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/auth"
	"github.com/wolfeidau/storefront/internal/config"
	"github.com/wolfeidau/storefront/internal/logger"
	"github.com/wolfeidau/storefront/internal/server"
	"github.com/wolfeidau/storefront/internal/signin"
	"github.com/wolfeidau/storefront/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"STOREFRONT_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"STOREFRONT_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"STOREFRONT_TLS_KEY"`
	Config string `help:"path to YAML config file" type:"path" env:"STOREFRONT_CONFIG"`

	// CORS configuration, the same origins are trusted for cross-origin writes
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"STOREFRONT_CORS_ORIGINS"`

	Tracing bool `help:"enable tracing" default:"false" env:"STOREFRONT_TRACING"`

	// Access tokens are verified with the identity provider's signing secret
	JWTSecret string `help:"identity provider JWT secret used to verify access tokens" name:"jwt-secret" env:"STOREFRONT_JWT_SECRET"`

	// Store configuration, overrides the config file when set
	StoreType     string             `help:"store type (memory, sqlite or postgres)" env:"STOREFRONT_STORE_TYPE"`
	SQLitePath    string             `help:"SQLite database path" name:"sqlite-path" env:"STOREFRONT_SQLITE_PATH"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	ConnString  string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	MaxConns    int32  `help:"maximum number of connections in pool" default:"0"`
	MinConns    int32  `help:"minimum number of connections in pool" default:"0"`
	AutoMigrate bool   `help:"run database migrations on startup" default:"false" env:"STOREFRONT_POSTGRES_AUTO_MIGRATE"`
}

// loadConfig reads the config file and applies flag overrides.
func (c *ServeCmd) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}

	if c.JWTSecret != "" {
		cfg.Auth.JWTSecret = c.JWTSecret
	}
	if c.StoreType != "" {
		cfg.Store.Type = c.StoreType
	}
	if c.SQLitePath != "" {
		cfg.Store.SQLite.Path = c.SQLitePath
	}
	if pg := c.PostgresStore; pg.ConnString != "" {
		cfg.Store.Postgres.ConnString = pg.ConnString
		cfg.Store.Postgres.AutoMigrate = cfg.Store.Postgres.AutoMigrate || pg.AutoMigrate
		if pg.MaxConns > 0 {
			cfg.Store.Postgres.MaxConns = pg.MaxConns
		}
		if pg.MinConns > 0 {
			cfg.Store.Postgres.MinConns = pg.MinConns
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "storefront-server",
			Version:     globals.Version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, err := cfg.Store.OpenStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()
	log.Info().Str("store", cfg.Store.Type).Msg("Using sign-in store")

	authn := auth.NewAuthenticator(verifier, stores.Users)
	api := server.NewServer(signin.New(stores.SignIns), authn).Handler(log)

	// Cross-origin writes are only accepted from the CORS origins
	protection := csrf.New()
	for _, origin := range c.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return fmt.Errorf("invalid CORS origin %q: %w", origin, err)
		}
	}

	handler := withCORS(c.CORSOrigins, protection.Handler(api))

	useTLS := c.Cert != "" || c.Key != ""
	if useTLS {
		if err := checkTLSFiles(c.Cert, c.Key); err != nil {
			return err
		}
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", useTLS).Msg("Starting HTTP server")
		if useTLS {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

func checkTLSFiles(cert, key string) error {
	if cert == "" || key == "" {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if _, err := os.Stat(cert); err != nil {
		return fmt.Errorf("TLS certificate not found at %s: %w", cert, err)
	}
	if _, err := os.Stat(key); err != nil {
		return fmt.Errorf("TLS key not found at %s: %w", key, err)
	}
	return nil
}

// withCORS adds CORS support to the API handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	})
	return middleware.Handler(h)
}
