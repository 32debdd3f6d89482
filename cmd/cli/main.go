package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/storefront/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Options commands.Options `embed:""`

		Login   commands.LoginCmd   `cmd:"" help:"Sign in with email and password"`
		Logout  commands.LogoutCmd  `cmd:"" help:"Sign out and clear the local session"`
		Status  commands.StatusCmd  `cmd:"" help:"Show the current session"`
		Refresh commands.RefreshCmd `cmd:"" help:"Force a session refresh"`
		Watch   commands.WatchCmd   `cmd:"" help:"Keep the session alive until interrupted"`
		Storage commands.StorageCmd `cmd:"" help:"Inspect or clear the local storage"`
		Signins commands.SigninsCmd `cmd:"" help:"Query the sign-in audit log"`
		Users   commands.UsersCmd   `cmd:"" help:"Manage user roles"`
		Debug   bool                `help:"Enable debug mode." env:"STOREFRONT_DEBUG"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("storefront-cli"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Options: cli.Options})
	cmd.FatalIfErrorf(err)
}
