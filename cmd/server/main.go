package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/storefront/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"STOREFRONT_DEBUG"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd `cmd:"" help:"Start the sign-in audit API server"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("storefront-server"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
