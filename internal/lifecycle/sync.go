package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/provider"
	"github.com/wolfeidau/storefront/internal/retry"
	"github.com/wolfeidau/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var errEmptyRole = errors.New("empty role")

// bootstrap adopts the provider's session, or restores the stored snapshot.
func (c *Controller) bootstrap(ctx context.Context) {
	session, err := c.getSession(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Debug().Err(err).Msg("failed to get session during bootstrap")
	}
	if err == nil && session.HasUser() {
		c.adopt(ctx, session, true)
		return
	}

	snap := c.adapter.ReadSnapshot()
	if !snap.Restorable() {
		return
	}

	restored, err := c.restoreSession(ctx, provider.TokenPair{
		AccessToken:  snap.AccessToken,
		RefreshToken: snap.RefreshToken,
	})
	if err == nil && restored.HasUser() {
		log.Info().Str("user_id", restored.UserID()).Msg("restored session from snapshot")
		c.adopt(ctx, restored, true)
		return
	}

	log.Info().Err(err).Msg("discarding session snapshot that could not be restored")
	c.adapter.RemoveKey(c.adapter.SessionKey())
}

// handleAuthEvent adopts the event's session verbatim. Provider events are
// the most authoritative source and overwrite whatever the timers last set.
func (c *Controller) handleAuthEvent(event provider.Event, session *models.Session) {
	log.Debug().
		Str("event", string(event)).
		Str("session", session.Fingerprint()).
		Msg("auth state changed")

	if !c.setSession(session) {
		return
	}

	if userID := session.UserID(); userID != "" {
		c.fetchRole(c.ctx, userID)
	}
}

func (c *Controller) periodicRefresh(ctx context.Context) {
	if !c.authenticated() {
		return
	}
	c.refresh(ctx, "periodic")
}

// refresh asks the provider for a new session. A classifier-positive error
// clears everything; any other failure leaves state alone.
func (c *Controller) refresh(ctx context.Context, trigger string) {
	session, err := c.refreshSession(ctx)
	if err != nil {
		if provider.IsRefreshTokenError(err) {
			recordRefresh(ctx, trigger, "terminal")
			c.clearInvalid(ctx, trigger, err)
			return
		}
		recordRefresh(ctx, trigger, "failed")
		log.Debug().Err(err).Str("trigger", trigger).Msg("session refresh failed, keeping current session")
		return
	}

	if !session.HasUser() {
		recordRefresh(ctx, trigger, "empty")
		return
	}

	recordRefresh(ctx, trigger, "refreshed")
	c.adopt(ctx, session, false)
}

// healthCheck reconciles local state with the provider.
func (c *Controller) healthCheck(ctx context.Context, trigger string) {
	authenticated := c.authenticated()

	session, err := c.getSession(ctx)
	terminal := err != nil && provider.IsRefreshTokenError(err)

	if err != nil && !terminal {
		// transient failures never log the user out
		log.Debug().Err(err).Str("trigger", trigger).Msg("session check failed, keeping current state")
		return
	}

	if !terminal && session.HasUser() {
		c.adopt(ctx, session, false)
		if authenticated {
			c.refresh(ctx, "keep_alive")
		}
		return
	}

	recovered := c.recovery.AttemptRecovery(ctx)
	if recovered != nil {
		c.adopt(ctx, recovered, false)
		return
	}

	if authenticated {
		log.Info().Str("trigger", trigger).Msg("provider lost the session and recovery failed, signing out")
		if c.setSession(nil) {
			recordCleared(ctx, "recovery_exhausted")
		}
	}
}

// adopt sets session and refreshes the role when the user changed or the
// role is still unknown.
func (c *Controller) adopt(ctx context.Context, session *models.Session, retryRole bool) {
	c.mu.Lock()
	prevUser := c.session.UserID()
	prevRole := c.role
	c.mu.Unlock()

	if !c.setSession(session) {
		return
	}

	userID := session.UserID()
	if userID == prevUser && prevRole != models.RoleUnknown {
		return
	}

	if c.fetchRole(ctx, userID) || !retryRole {
		return
	}

	c.spawn(func(ctx context.Context) {
		c.FetchUserRoleWithRetry(ctx, userID, c.cfg.RoleRetries)
	})
}

// clearInvalid removes every stored auth key and clears the session.
func (c *Controller) clearInvalid(ctx context.Context, reason string, cause error) {
	log.Info().Err(cause).Str("reason", reason).Msg("session is no longer valid, clearing")

	c.adapter.ClearInvalidSession()
	if c.setSession(nil) {
		recordCleared(ctx, reason)
	}
}

// fetchRole is the single attempt lookup used on hot paths. It returns false
// if no role could be found, in which case the role is reset to "".
func (c *Controller) fetchRole(ctx context.Context, userID string) bool {
	role, err := c.lookupRole(ctx, userID)
	if err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("failed to fetch user role")
		c.setRoleFor(userID, models.RoleUnknown)
		return false
	}

	c.setRoleFor(userID, role)
	return true
}

func (c *Controller) lookupRole(ctx context.Context, userID string) (string, error) {
	role, err := provider.Guard("role lookup", func() (string, error) {
		return c.roles.GetUserRole(ctx, userID)
	})
	if err == nil && role == models.RoleUnknown {
		err = errEmptyRole
	}

	outcome := "found"
	if err != nil {
		outcome = "failed"
	}
	telemetry.GetMetrics().RoleFetchTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))

	return role, err
}

func (c *Controller) lookupRoleWithRetry(ctx context.Context, userID string, retries int) (string, error) {
	return retry.Do(ctx, retries, retry.Constant(c.cfg.RoleRetryDelay), func(ctx context.Context) (string, error) {
		return c.lookupRole(ctx, userID)
	})
}

func (c *Controller) getSession(ctx context.Context) (*models.Session, error) {
	return provider.Guard("get session", func() (*models.Session, error) {
		return c.provider.GetSession(ctx)
	})
}

func (c *Controller) refreshSession(ctx context.Context) (*models.Session, error) {
	return provider.Guard("refresh session", func() (*models.Session, error) {
		return c.provider.RefreshSession(ctx)
	})
}

func (c *Controller) restoreSession(ctx context.Context, tokens provider.TokenPair) (*models.Session, error) {
	return provider.Guard("restore session", func() (*models.Session, error) {
		return c.provider.RestoreSession(ctx, tokens)
	})
}

func recordRefresh(ctx context.Context, trigger, outcome string) {
	telemetry.GetMetrics().SessionRefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	))
}

func recordCleared(ctx context.Context, reason string) {
	telemetry.GetMetrics().SessionClearedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func recordBootstrap(ctx context.Context, reason string, elapsed time.Duration) {
	telemetry.GetMetrics().BootstrapDuration.Record(ctx, float64(elapsed.Milliseconds()),
		metric.WithAttributes(attribute.String("reason", reason)))
}
