// Package provider defines the identity provider capability consumed by the
// session lifecycle, and the normalised error type returned at its boundary.
package provider

import (
	"context"

	"github.com/wolfeidau/storefront/internal/models"
)

// Event is an auth state change emitted by a provider.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// TokenPair is used to restore a session from stored tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Listener receives auth state changes. Session is nil on sign out.
type Listener func(event Event, session *models.Session)

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Provider issues, refreshes and revokes sessions.
//
// Errors describing the session itself are returned as *AuthError; transport
// failures are returned as plain wrapped errors.
type Provider interface {
	// GetSession returns the provider's current session, or nil when signed out.
	GetSession(ctx context.Context) (*models.Session, error)
	// RefreshSession mints a new access token from the current refresh token.
	RefreshSession(ctx context.Context) (*models.Session, error)
	// RestoreSession adopts a session from a stored token pair.
	RestoreSession(ctx context.Context, tokens TokenPair) (*models.Session, error)
	// SignOut revokes the current session.
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers a listener; events are delivered in order.
	OnAuthStateChange(listener Listener) Subscription
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() {
	f()
}
