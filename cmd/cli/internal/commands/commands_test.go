package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/storefront/internal/storage"
)

const testPassword = "correct horse"

// syncBuffer is a bytes.Buffer safe for the watch callback goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeGoTrue serves just enough of the auth API for password sign in,
// refresh and logout.
type fakeGoTrue struct {
	mu      sync.Mutex
	issued  int
	logouts int
}

func newFakeGoTrue(t *testing.T) (*fakeGoTrue, *httptest.Server) {
	f := &fakeGoTrue{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", f.handleToken)
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGoTrue) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.Header().Set("Content-Type", "application/json")

	if r.URL.Query().Get("grant_type") == "password" && body["password"] != testPassword {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":       400,
			"error_code": "invalid_credentials",
			"msg":        "Invalid login credentials",
		})
		return
	}

	f.mu.Lock()
	f.issued++
	n := f.issued
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "access-" + string(rune('a'+n)),
		"refresh_token": "refresh-" + string(rune('a'+n)),
		"expires_in":    3600,
		"user":          map[string]any{"id": "u1", "email": "u1@example.com"},
	})
}

func (f *fakeGoTrue) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

type testEnv struct {
	dir     string
	globals *Globals
	out     *syncBuffer
	fake    *fakeGoTrue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake, srv := newFakeGoTrue(t)
	dir := t.TempDir()
	out := &syncBuffer{}

	return &testEnv{
		dir:  dir,
		out:  out,
		fake: fake,
		globals: &Globals{
			Version: "test",
			Stdout:  out,
			Options: Options{
				ProviderURL: srv.URL,
				APIKey:      "anon",
				Storage:     "file",
				StorageDir:  filepath.Join(dir, "storage"),
				Store:       "sqlite",
				SQLitePath:  filepath.Join(dir, "storefront.db"),
			},
		},
	}
}

// run executes cmd and returns only the output it produced.
func (te *testEnv) run(t *testing.T, cmd interface {
	Run(context.Context, *Globals) error
}) (string, error) {
	t.Helper()

	before := len(te.out.String())
	err := cmd.Run(context.Background(), te.globals)
	return te.out.String()[before:], err
}

func (te *testEnv) login(t *testing.T) {
	t.Helper()
	out, err := te.run(t, &LoginCmd{Email: "u1@example.com", Password: testPassword})
	require.NoError(t, err)
	require.Contains(t, out, "Signed in as u1@example.com (u1)")
}

func TestUsersCmd(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.run(t, &UsersPutCmd{UserID: "u1", Email: "u1@example.com", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "User u1 is now ADMIN\n", out)

	out, err = te.run(t, &UsersRoleCmd{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "ADMIN\n", out)

	_, err = te.run(t, &UsersPutCmd{UserID: "u2", Email: "u2@example.com", Role: "owner"})
	require.Error(t, err)

	_, err = te.run(t, &UsersRoleCmd{UserID: "nobody"})
	require.Error(t, err)
}

func TestLoginCmd_recordsAttempts(t *testing.T) {
	te := newTestEnv(t)

	_, err := te.run(t, &LoginCmd{Email: "u1@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")

	te.login(t)

	out, err := te.run(t, &SigninsRecentCmd{})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RESULT")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[2], "failed: invalid_credentials")

	out, err = te.run(t, &SigninsHistoryCmd{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = te.run(t, &SigninsStatsCmd{})
	require.NoError(t, err)
	assert.Regexp(t, `Total:\s+2\n`, out)
	assert.Regexp(t, `Successful:\s+1\n`, out)
	assert.Regexp(t, `Failed:\s+1\n`, out)

	out, err = te.run(t, &SigninsStatsCmd{Start: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Regexp(t, `Total:\s+0\n`, out)

	_, err = te.run(t, &SigninsStatsCmd{Start: time.Now(), End: time.Now().Add(-time.Hour)})
	require.Error(t, err)
}

func TestStatusCmd(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.run(t, &StatusCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Not signed in.\n", out)

	_, err = te.run(t, &UsersPutCmd{UserID: "u1", Email: "u1@example.com", Role: "CUSTOMER"})
	require.NoError(t, err)
	te.login(t)

	out, err = te.run(t, &StatusCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "u1@example.com")
	assert.Contains(t, out, "CUSTOMER")
	assert.Regexp(t, `Valid:\s+true\n`, out)
	assert.NotContains(t, out, "access-")

	out, err = te.run(t, &StatusCmd{JSON: true})
	require.NoError(t, err)

	var summary sessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.True(t, summary.Authenticated)
	assert.True(t, summary.Valid)
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, "CUSTOMER", summary.Role)
	assert.NotEmpty(t, summary.Fingerprint)
	assert.WithinDuration(t, time.Now().Add(time.Hour), summary.ExpiresAt, time.Minute)
}

func TestRefreshCmd(t *testing.T) {
	te := newTestEnv(t)
	te.login(t)

	out, err := te.run(t, &RefreshCmd{JSON: true})
	require.NoError(t, err)

	var summary sessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.True(t, summary.Authenticated)
	assert.Empty(t, summary.Role)
}

func TestLogoutCmd(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.run(t, &LogoutCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Not signed in.\n", out)

	te.login(t)

	out, err = te.run(t, &LogoutCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Signed out u1@example.com\n", out)
	assert.Equal(t, 1, te.fake.logoutCount())

	out, err = te.run(t, &StorageListCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Storage is empty.\n", out)

	out, err = te.run(t, &StatusCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Not signed in.\n", out)
}

func TestStorageCmd(t *testing.T) {
	te := newTestEnv(t)

	s, err := storage.NewFile(te.globals.Options.StorageDir)
	require.NoError(t, err)
	require.NoError(t, s.SetItem("cart", `["sku-1"]`))

	te.login(t)

	out, err := te.run(t, &StorageListCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "cart")
	assert.Regexp(t, `sb-127-auth-token\s+provider`, out)
	assert.Regexp(t, `storefront-session\s+snapshot`, out)

	out, err = te.run(t, &StorageClearCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Cleared stored session data.\n", out)

	out, err = te.run(t, &StorageListCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "cart")
	assert.NotContains(t, out, "sb-127-auth-token")
	assert.NotContains(t, out, "storefront-session")

	out, err = te.run(t, &StatusCmd{})
	require.NoError(t, err)
	assert.Equal(t, "Not signed in.\n", out)
}

func TestWatchCmd(t *testing.T) {
	te := newTestEnv(t)
	te.login(t)

	e, err := te.globals.open(context.Background(), true)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 2)

	done := make(chan error, 1)
	go func() {
		done <- (&WatchCmd{ActivityEvent: "keydown"}).watch(ctx, e, te.out, signals)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(te.out.String(), "Watching session")
	}, 2*time.Second, 10*time.Millisecond)

	signals <- syscall.SIGUSR1
	signals <- syscall.SIGUSR2
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	assert.Contains(t, te.out.String(), "u1@example.com")
	assert.Contains(t, te.out.String(), "Watch finished")
}

func TestCommands_requireProvider(t *testing.T) {
	te := newTestEnv(t)
	te.globals.Options.ProviderURL = ""

	_, err := te.run(t, &StatusCmd{})
	require.ErrorIs(t, err, errNoProvider)

	// audit and storage commands work without a provider
	_, err = te.run(t, &SigninsRecentCmd{})
	require.NoError(t, err)
}

func TestCommands_invalidConfig(t *testing.T) {
	te := newTestEnv(t)
	te.globals.Options.Storage = "cookie"

	_, err := te.run(t, &StorageListCmd{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Storage.Type must be one of")
}
