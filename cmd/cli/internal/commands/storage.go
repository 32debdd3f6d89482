package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/wolfeidau/storefront/internal/storage"
)

// StorageCmd inspects and clears the local storage medium.
type StorageCmd struct {
	List  StorageListCmd  `cmd:"" help:"List storage keys"`
	Clear StorageClearCmd `cmd:"" help:"Remove the session snapshot and every provider key"`
}

// StorageListCmd lists keys and marks the ones that hold session data.
type StorageListCmd struct{}

func (s *StorageListCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	keys, err := storage.Keys(e.storage)
	if err != nil {
		return fmt.Errorf("failed to list storage keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintln(globals.out(), "Storage is empty.")
		return nil
	}

	providerKeys := make(map[string]bool)
	for _, k := range e.adapter.ProviderKeys() {
		providerKeys[k] = true
	}

	w := tabwriter.NewWriter(globals.out(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOWNER")
	for _, k := range keys {
		owner := "-"
		switch {
		case k == e.adapter.SessionKey():
			owner = "snapshot"
		case providerKeys[k]:
			owner = "provider"
		}
		fmt.Fprintf(w, "%s\t%s\n", k, owner)
	}
	return w.Flush()
}

// StorageClearCmd wipes session data, leaving unrelated keys alone.
type StorageClearCmd struct{}

func (s *StorageClearCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	e.adapter.ClearInvalidSession()

	fmt.Fprintln(globals.out(), "Cleared stored session data.")
	return nil
}
