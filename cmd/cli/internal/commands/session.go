package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/storefront/internal/lifecycle"
)

// sessionSummary is the printable view of the controller state. Tokens are
// never printed.
type sessionSummary struct {
	Authenticated bool      `json:"authenticated"`
	Valid         bool      `json:"valid"`
	UserID        string    `json:"user_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	Role          string    `json:"role,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
}

func summarize(state lifecycle.State) sessionSummary {
	s := sessionSummary{
		Authenticated: state.Session.HasUser(),
		Valid:         state.IsSessionValid(),
		Role:          state.UserRole,
	}
	if !s.Authenticated {
		return s
	}

	s.UserID = state.Session.User.ID
	s.Email = state.Session.User.Email
	s.Fingerprint = state.Session.Fingerprint()
	if state.Session.ExpiresAt > 0 {
		s.ExpiresAt = state.Session.Expiry().UTC()
	}
	return s
}

func printState(w io.Writer, state lifecycle.State, asJSON bool) error {
	summary := summarize(state)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	if !summary.Authenticated {
		_, err := fmt.Fprintln(w, "Not signed in.")
		return err
	}

	role := summary.Role
	if role == "" {
		role = "(unknown)"
	}
	expires := "(unknown)"
	if !summary.ExpiresAt.IsZero() {
		expires = summary.ExpiresAt.Format(time.RFC3339)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "User:\t%s\n", summary.UserID)
	fmt.Fprintf(tw, "Email:\t%s\n", summary.Email)
	fmt.Fprintf(tw, "Role:\t%s\n", role)
	fmt.Fprintf(tw, "Valid:\t%t\n", summary.Valid)
	fmt.Fprintf(tw, "Expires:\t%s\n", expires)
	fmt.Fprintf(tw, "Session:\t%s\n", summary.Fingerprint)
	return tw.Flush()
}

// StatusCmd bootstraps the session and prints it.
type StatusCmd struct {
	JSON bool `help:"print as JSON" name:"json"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
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

	return printState(globals.out(), c.State(), s.JSON)
}

// RefreshCmd forces a re-sync with the provider and prints the result.
type RefreshCmd struct {
	JSON bool `help:"print as JSON" name:"json"`
}

func (r *RefreshCmd) Run(ctx context.Context, globals *Globals) error {
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

	c.ForceRefreshSession(ctx)

	return printState(globals.out(), c.State(), r.JSON)
}

// WatchCmd keeps the session alive until interrupted. SIGUSR1 reports the
// host becoming visible, SIGUSR2 reports user activity.
type WatchCmd struct {
	ActivityEvent string `help:"activity event reported on SIGUSR2" default:"keydown" enum:"mousedown,keydown,scroll,touchstart,click"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := globals.open(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	// Handle host notifications
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	return w.watch(ctx, e, globals.out(), sigChan)
}

func (w *WatchCmd) watch(ctx context.Context, e *env, out io.Writer, signals <-chan os.Signal) error {
	c, err := e.controller(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintln(out, "Watching session (press Ctrl+C to stop)...")
	_ = printState(out, c.State(), false)

	unsubscribe := c.OnChange(func(state lifecycle.State) {
		fmt.Fprintf(out, "\n[%s] session changed\n", time.Now().Format(time.TimeOnly))
		_ = printState(out, state, false)
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Watch finished")
			return nil
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				c.NotifyVisibilityChange(true)
			case syscall.SIGUSR2:
				c.NotifyActivity(w.ActivityEvent)
			}
		}
	}
}
