package commands

import (
	"context"
	"fmt"
	"strings"
)

// UsersCmd manages the roles the session controller looks up.
type UsersCmd struct {
	Put  UsersPutCmd  `cmd:"" help:"Create or update a user's role"`
	Role UsersRoleCmd `cmd:"" help:"Show a user's role"`
}

type UsersPutCmd struct {
	UserID string `arg:"" help:"user id"`
	Email  string `arg:"" help:"user email"`
	Role   string `arg:"" help:"role (ADMIN or CUSTOMER)"`
}

func (u *UsersPutCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	role := strings.ToUpper(u.Role)
	if err := e.stores.Users.PutUser(ctx, u.UserID, u.Email, role); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	fmt.Fprintf(globals.out(), "User %s is now %s\n", u.UserID, role)
	return nil
}

type UsersRoleCmd struct {
	UserID string `arg:"" help:"user id"`
}

func (u *UsersRoleCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	role, err := e.stores.Users.GetUserRole(ctx, u.UserID)
	if err != nil {
		return fmt.Errorf("failed to get role for %s: %w", u.UserID, err)
	}

	fmt.Fprintln(globals.out(), role)
	return nil
}
