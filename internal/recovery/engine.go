// Package recovery reacquires a usable session when the provider's normal
// channel fails: a provider refresh first, then stored provider snapshots.
package recovery

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/provider"
	"github.com/wolfeidau/storefront/internal/snapshot"
	"github.com/wolfeidau/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcomes recorded on the recovery counter.
const (
	OutcomeRefreshed          = "refreshed"
	OutcomeRestored           = "restored"
	OutcomeRestoredUnverified = "restored_unverified"
	OutcomeTerminal           = "terminal"
	OutcomeExhausted          = "exhausted"
)

// Engine runs the tiered recovery strategy.
type Engine struct {
	provider provider.Provider
	adapter  *snapshot.Adapter
}

// New creates a recovery engine.
func New(p provider.Provider, adapter *snapshot.Adapter) *Engine {
	return &Engine{provider: p, adapter: adapter}
}

// storedSession is the loose shape of a provider-written storage entry.
type storedSession struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken *string      `json:"refresh_token"`
	ExpiresAt    int64        `json:"expires_at"`
	User         *models.User `json:"user"`
}

// AttemptRecovery returns a recovered session or nil. It never fails: every
// error, including a panicking provider, degrades to nil.
func (e *Engine) AttemptRecovery(ctx context.Context) *models.Session {
	session, outcome := e.attempt(ctx)

	telemetry.GetMetrics().SessionRecoveriesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))

	log.Debug().
		Str("outcome", outcome).
		Str("session", session.Fingerprint()).
		Msg("session recovery finished")

	return session
}

func (e *Engine) attempt(ctx context.Context) (*models.Session, string) {
	// Step 1: provider refresh
	session, err := e.refresh(ctx)
	if err != nil {
		if provider.IsRefreshTokenError(err) {
			log.Info().Err(err).Msg("refresh token rejected, clearing stored session")
			e.adapter.ClearInvalidSession()
			return nil, OutcomeTerminal
		}
		log.Debug().Err(err).Msg("provider refresh failed, trying stored sessions")
	} else if session.HasUser() {
		return session, OutcomeRefreshed
	}

	// Step 2: stored provider snapshots
	for _, key := range e.adapter.ProviderKeys() {
		raw, ok := e.adapter.ReadRaw(key)
		if !ok {
			continue
		}

		var stored storedSession
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("skipping unparseable stored session")
			continue
		}

		switch {
		case stored.AccessToken != "":
			refreshToken := ""
			if stored.RefreshToken != nil {
				refreshToken = *stored.RefreshToken
			}

			restored, err := e.restore(ctx, provider.TokenPair{
				AccessToken:  stored.AccessToken,
				RefreshToken: refreshToken,
			})
			if err != nil {
				if provider.IsRefreshTokenError(err) {
					log.Info().Err(err).Str("key", key).Msg("stored session rejected, removing")
					e.adapter.RemoveKey(key)
					return nil, OutcomeTerminal
				}
				log.Debug().Err(err).Str("key", key).Msg("failed to restore stored session")
				continue
			}
			if restored.HasUser() {
				return restored, OutcomeRestored
			}

		case stored.User != nil:
			// No token round trip is possible; the identity is accepted unverified.
			log.Warn().Str("key", key).Str("user_id", stored.User.ID).Msg("adopting stored session without provider confirmation")
			return &models.Session{ExpiresAt: stored.ExpiresAt, User: stored.User}, OutcomeRestoredUnverified
		}
	}

	return nil, OutcomeExhausted
}

func (e *Engine) refresh(ctx context.Context) (*models.Session, error) {
	return provider.Guard("refresh session", func() (*models.Session, error) {
		return e.provider.RefreshSession(ctx)
	})
}

func (e *Engine) restore(ctx context.Context, tokens provider.TokenPair) (*models.Session, error) {
	return provider.Guard("restore session", func() (*models.Session, error) {
		return e.provider.RestoreSession(ctx, tokens)
	})
}
