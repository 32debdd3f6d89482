package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/storefront/internal/provider"
	"github.com/wolfeidau/storefront/internal/signin"
)

// LoginCmd signs in with a password and records the attempt in the audit log.
type LoginCmd struct {
	Email    string `help:"account email" required:"" env:"STOREFRONT_EMAIL"`
	Password string `help:"account password" required:"" env:"STOREFRONT_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	userAgent := "storefront-cli/" + globals.Version

	session, err := e.provider.SignInWithPassword(ctx, l.Email, l.Password)
	if err != nil {
		e.audit.LogSignIn(ctx, signin.Attempt{
			Email:         l.Email,
			Success:       false,
			FailureReason: failureReason(err),
			UserAgent:     userAgent,
		})
		return fmt.Errorf("sign in failed: %w", err)
	}

	e.audit.LogSignIn(ctx, signin.Attempt{
		UserID:    session.UserID(),
		Email:     session.User.Email,
		Success:   true,
		SessionID: session.Fingerprint(),
		UserAgent: userAgent,
	})

	e.adapter.Persist(session)

	fmt.Fprintf(globals.out(), "Signed in as %s (%s)\n", session.User.Email, session.UserID())
	return nil
}

// failureReason prefers the provider's error code over its message.
func failureReason(err error) string {
	var authErr *provider.AuthError
	if errors.As(err, &authErr) && authErr != nil {
		if authErr.Code != "" {
			return authErr.Code
		}
		if authErr.Message != "" {
			return authErr.Message
		}
	}
	return err.Error()
}

// LogoutCmd signs out at the provider and clears local state.
type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := e.controller(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	prev := c.Session()
	c.SignOut(ctx)

	if prev == nil {
		fmt.Fprintln(globals.out(), "Not signed in.")
		return nil
	}

	fmt.Fprintf(globals.out(), "Signed out %s\n", prev.User.Email)
	return nil
}
