package commands

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/csrf"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/storefront/internal/config"
)

func TestServeCmd_loadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: from-file\nstore:\n  type: sqlite\n  sqlite:\n    path: /var/lib/storefront.db\n"), 0600))

	t.Run("file values", func(t *testing.T) {
		cmd := &ServeCmd{Config: path}
		cfg, err := cmd.loadConfig()
		require.NoError(t, err)
		require.Equal(t, config.StoreSQLite, cfg.Store.Type)
		require.Equal(t, "/var/lib/storefront.db", cfg.Store.SQLite.Path)
		require.Equal(t, "from-file", cfg.Auth.JWTSecret)
	})

	t.Run("flags override", func(t *testing.T) {
		cmd := &ServeCmd{
			Config:    path,
			JWTSecret: "from-flag",
			StoreType: config.StorePostgres,
			PostgresStore: PostgresStoreFlags{
				ConnString: "postgres://localhost/storefront",
				MaxConns:   4,
			},
		}
		cfg, err := cmd.loadConfig()
		require.NoError(t, err)
		require.Equal(t, config.StorePostgres, cfg.Store.Type)
		require.Equal(t, "postgres://localhost/storefront", cfg.Store.Postgres.ConnString)
		require.Equal(t, int32(4), cfg.Store.Postgres.MaxConns)
		require.Equal(t, "from-flag", cfg.Auth.JWTSecret)
	})

	t.Run("postgres without connection string", func(t *testing.T) {
		cmd := &ServeCmd{StoreType: config.StorePostgres}
		_, err := cmd.loadConfig()
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestCrossOriginProtection(t *testing.T) {
	origins := []string{"https://admin.example.com"}

	protection := csrf.New()
	for _, origin := range origins {
		require.NoError(t, protection.AddTrustedOrigin(origin))
	}

	handler := withCORS(origins, protection.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	tests := []struct {
		name   string
		method string
		origin string
		status int
	}{
		{name: "trusted origin write", method: http.MethodPost, origin: "https://admin.example.com", status: http.StatusAccepted},
		{name: "untrusted origin write", method: http.MethodPost, origin: "https://evil.example.com", status: http.StatusForbidden},
		{name: "same origin write", method: http.MethodPost, origin: "", status: http.StatusAccepted},
		{name: "untrusted origin read", method: http.MethodGet, origin: "https://evil.example.com", status: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "https://api.example.com/api/signins", strings.NewReader("{}"))
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)
			require.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "https://api.example.com/api/signins", nil)
		r.Header.Set("Origin", "https://admin.example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
