package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/provider"
	"github.com/wolfeidau/storefront/internal/provider/providerfake"
	"github.com/wolfeidau/storefront/internal/snapshot"
	"github.com/wolfeidau/storefront/internal/storage"
)

var (
	errNetwork     = errors.New("dial tcp: connection refused")
	errSessionGone = provider.NewAuthError(400, "session_not_found", "Session from session_id claim in JWT does not exist")
)

func liveSession(id string) *models.Session {
	return &models.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    1735689600,
		User:         &models.User{ID: id, Email: id + "@example.com"},
	}
}

type fixture struct {
	provider *providerfake.Provider
	storage  *storage.Memory
	adapter  *snapshot.Adapter
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := providerfake.New()
	mem := storage.NewMemory()
	adapter := snapshot.New(mem, snapshot.Options{})

	return &fixture{
		provider: p,
		storage:  mem,
		adapter:  adapter,
		engine:   New(p, adapter),
	}
}

func (f *fixture) store(t *testing.T, key, value string) {
	t.Helper()
	require.NoError(t, f.storage.SetItem(key, value))
}

func (f *fixture) has(t *testing.T, key string) bool {
	t.Helper()
	_, ok, err := f.storage.GetItem(key)
	require.NoError(t, err)
	return ok
}

func TestAttemptRecovery_RefreshSucceeds(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRefresh(providerfake.Returns(liveSession("u1"), nil))
	f.store(t, "sb-demo-auth-token", `{"access_token":"stale"}`)

	session := f.engine.AttemptRecovery(context.Background())
	require.NotNil(t, session)
	assert.Equal(t, "u1", session.User.ID)
	assert.Zero(t, f.provider.Calls(providerfake.CallRestore))
}

func TestAttemptRecovery_TerminalRefreshErrorClearsStorage(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRefresh(providerfake.Returns(nil, errSessionGone))
	f.store(t, snapshot.DefaultSessionKey, `{"access_token":"t"}`)
	f.store(t, "sb-demo-auth-token", `{"access_token":"t","refresh_token":"r"}`)
	f.store(t, "cart", `[]`)

	session := f.engine.AttemptRecovery(context.Background())
	assert.Nil(t, session)

	// does not fall through to stored snapshots
	assert.Zero(t, f.provider.Calls(providerfake.CallRestore))
	assert.False(t, f.has(t, snapshot.DefaultSessionKey))
	assert.False(t, f.has(t, "sb-demo-auth-token"))
	assert.True(t, f.has(t, "cart"))
}

func TestAttemptRecovery_RestoresFromProviderKey(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRefresh(providerfake.Returns(nil, errNetwork))
	f.provider.SetRestore(providerfake.RestoreReturns(liveSession("u2"), nil))
	f.store(t, "sb-demo-auth-token", `{"access_token":"t2","refresh_token":"r2","user":{"id":"u2","email":"u2@example.com"}}`)

	session := f.engine.AttemptRecovery(context.Background())
	require.NotNil(t, session)
	assert.Equal(t, "u2", session.User.ID)
	assert.Equal(t, []provider.TokenPair{{AccessToken: "t2", RefreshToken: "r2"}}, f.provider.RestoreCalls())
}

func TestAttemptRecovery_MissingRefreshTokenRestoresWithEmptyString(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRestore(providerfake.RestoreReturns(liveSession("u2"), nil))
	f.store(t, "sb-demo-auth-token", `{"access_token":"t2"}`)

	session := f.engine.AttemptRecovery(context.Background())
	require.NotNil(t, session)
	assert.Equal(t, []provider.TokenPair{{AccessToken: "t2", RefreshToken: ""}}, f.provider.RestoreCalls())
}

func TestAttemptRecovery_TerminalRestoreErrorRemovesKeyAndStops(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRestore(providerfake.RestoreReturns(nil, provider.NewAuthError(400, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")))
	f.store(t, "sb-a-auth-token", `{"access_token":"ta","refresh_token":"ra"}`)
	f.store(t, "sb-b-auth-token", `{"access_token":"tb","refresh_token":"rb"}`)

	session := f.engine.AttemptRecovery(context.Background())
	assert.Nil(t, session)

	assert.False(t, f.has(t, "sb-a-auth-token"))
	assert.True(t, f.has(t, "sb-b-auth-token"))
	assert.Len(t, f.provider.RestoreCalls(), 1)
}

func TestAttemptRecovery_TransientRestoreErrorTriesNextKey(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRestore(func(ctx context.Context, tokens provider.TokenPair) (*models.Session, error) {
		if tokens.AccessToken == "ta" {
			return nil, errNetwork
		}
		return liveSession("ub"), nil
	})
	f.store(t, "sb-a-auth-token", `{"access_token":"ta","refresh_token":"ra"}`)
	f.store(t, "sb-b-auth-token", `{"access_token":"tb","refresh_token":"rb"}`)

	session := f.engine.AttemptRecovery(context.Background())
	require.NotNil(t, session)
	assert.Equal(t, "ub", session.User.ID)
	assert.True(t, f.has(t, "sb-a-auth-token"))
}

func TestAttemptRecovery_BareUserIsAdopted(t *testing.T) {
	f := newFixture(t)
	f.store(t, "sb-demo-auth-token", `{"user":{"id":"u3","email":"u3@example.com"}}`)

	session := f.engine.AttemptRecovery(context.Background())
	require.NotNil(t, session)
	assert.Equal(t, "u3", session.User.ID)
	assert.Empty(t, session.AccessToken)
	assert.Zero(t, f.provider.Calls(providerfake.CallRestore))
}

func TestAttemptRecovery_Exhausted(t *testing.T) {
	f := newFixture(t)
	f.store(t, "sb-bad-auth-token", `{not json`)
	f.store(t, "sb-empty-auth-token", `{}`)
	f.store(t, snapshot.DefaultSessionKey, `{"access_token":"ignored","user":{"id":"x"}}`)

	assert.Nil(t, f.engine.AttemptRecovery(context.Background()))

	// the adapter's own key is not a provider key
	assert.Zero(t, f.provider.Calls(providerfake.CallRestore))
}

// Every combination of refresh and restore outcomes resolves to a session with
// a user or nil, without panicking.
func TestAttemptRecovery_NeverFails(t *testing.T) {
	refreshOutcomes := map[string]providerfake.SessionFunc{
		"refresh ok":         providerfake.Returns(liveSession("r"), nil),
		"refresh no user":    providerfake.Returns(&models.Session{AccessToken: "t"}, nil),
		"refresh nil":        providerfake.Returns(nil, nil),
		"refresh transient":  providerfake.Returns(nil, errNetwork),
		"refresh terminal":   providerfake.Returns(nil, errSessionGone),
		"refresh panics":     providerfake.Panics("boom"),
		"refresh wrapped":    providerfake.Returns(nil, fmt.Errorf("wrapped: %w", errSessionGone)),
		"refresh cancelled":  providerfake.Returns(nil, context.Canceled),
		"refresh other auth": providerfake.Returns(nil, provider.NewAuthError(500, "unexpected_failure", "boom")),
	}
	restoreOutcomes := map[string]providerfake.RestoreFunc{
		"restore ok":        providerfake.RestoreReturns(liveSession("s"), nil),
		"restore nil":       providerfake.RestoreReturns(nil, nil),
		"restore transient": providerfake.RestoreReturns(nil, errNetwork),
		"restore terminal":  providerfake.RestoreReturns(nil, errSessionGone),
		"restore panics": func(context.Context, provider.TokenPair) (*models.Session, error) {
			panic("boom")
		},
	}

	for rn, refresh := range refreshOutcomes {
		for sn, restore := range restoreOutcomes {
			t.Run(rn+"/"+sn, func(t *testing.T) {
				f := newFixture(t)
				f.provider.SetRefresh(refresh)
				f.provider.SetRestore(restore)
				f.store(t, "sb-demo-auth-token", `{"access_token":"t","refresh_token":"r"}`)

				var session *models.Session
				require.NotPanics(t, func() {
					session = f.engine.AttemptRecovery(context.Background())
				})
				if session != nil {
					assert.True(t, session.HasUser())
				}
			})
		}
	}
}
