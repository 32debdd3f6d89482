// Package snapshot persists session snapshots to durable client storage.
//
// Persistence is best-effort: every storage failure is logged and swallowed so
// that a full or disabled storage medium never breaks the session lifecycle.
package snapshot

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/storage"
)

const (
	// DefaultSessionKey is the storage key owned by the adapter.
	DefaultSessionKey = "storefront-session"

	// DefaultProviderPrefix prefixes keys written by the identity provider itself.
	DefaultProviderPrefix = "sb-"

	// providerMarker matches legacy provider keys anywhere in the key name.
	providerMarker = "supabase"
)

// Options configures an Adapter.
type Options struct {
	// SessionKey is where snapshots are written. Default: storefront-session
	SessionKey string
	// ProviderPrefixes identify provider-namespaced keys. Default: ["sb-"]
	ProviderPrefixes []string
}

// Adapter reads and writes session snapshots.
type Adapter struct {
	storage          storage.Storage
	sessionKey       string
	providerPrefixes []string
}

// New creates an adapter over s.
func New(s storage.Storage, opts Options) *Adapter {
	if opts.SessionKey == "" {
		opts.SessionKey = DefaultSessionKey
	}
	if len(opts.ProviderPrefixes) == 0 {
		opts.ProviderPrefixes = []string{DefaultProviderPrefix}
	}

	return &Adapter{
		storage:          s,
		sessionKey:       opts.SessionKey,
		providerPrefixes: opts.ProviderPrefixes,
	}
}

// SessionKey returns the key snapshots are written under.
func (a *Adapter) SessionKey() string {
	return a.sessionKey
}

// Persist writes the session snapshot, or removes it when session is nil.
// A session without a user is ignored.
func (a *Adapter) Persist(session *models.Session) {
	if session == nil {
		a.RemoveKey(a.sessionKey)
		return
	}
	if !session.HasUser() {
		return
	}

	data, err := json.Marshal(models.NewSnapshot(session))
	if err != nil {
		log.Debug().Err(err).Msg("failed to encode session snapshot")
		return
	}

	if err := a.storage.SetItem(a.sessionKey, string(data)); err != nil {
		log.Debug().Err(err).Str("key", a.sessionKey).Msg("failed to persist session snapshot")
		return
	}

	log.Debug().
		Str("key", a.sessionKey).
		Str("session", session.Fingerprint()).
		Msg("persisted session snapshot")
}

// ReadSnapshot returns the stored snapshot, or nil when missing or unparseable.
func (a *Adapter) ReadSnapshot() *models.Snapshot {
	raw, ok, err := a.storage.GetItem(a.sessionKey)
	if err != nil {
		log.Debug().Err(err).Str("key", a.sessionKey).Msg("failed to read session snapshot")
		return nil
	}
	if !ok {
		return nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		log.Debug().Err(err).Str("key", a.sessionKey).Msg("discarding unparseable session snapshot")
		return nil
	}

	return &snap
}

// ClearInvalidSession removes the adapter's key and every provider key.
// Unrelated keys are left alone.
func (a *Adapter) ClearInvalidSession() {
	keys, err := storage.Keys(a.storage)
	if err != nil {
		log.Debug().Err(err).Msg("failed to enumerate storage keys")
		keys = nil
	}

	removed := 0
	for _, key := range keys {
		if key == a.sessionKey || a.isProviderKey(key) {
			if a.RemoveKey(key) {
				removed++
			}
		}
	}

	// the session key may not have been enumerable
	a.RemoveKey(a.sessionKey)

	log.Debug().Int("removed", removed).Msg("cleared invalid session from storage")
}

// ProviderKeys returns the keys written by the identity provider.
func (a *Adapter) ProviderKeys() []string {
	keys, err := storage.Keys(a.storage)
	if err != nil {
		log.Debug().Err(err).Msg("failed to enumerate storage keys")
		return nil
	}

	var out []string
	for _, key := range keys {
		if a.hasProviderPrefix(key) {
			out = append(out, key)
		}
	}
	return out
}

// ReadRaw returns the raw value stored at key.
func (a *Adapter) ReadRaw(key string) (string, bool) {
	raw, ok, err := a.storage.GetItem(key)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("failed to read storage key")
		return "", false
	}
	return raw, ok
}

// RemoveKey deletes a single key, returning false if the storage refused.
func (a *Adapter) RemoveKey(key string) bool {
	if err := a.storage.RemoveItem(key); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("failed to remove storage key")
		return false
	}
	return true
}

func (a *Adapter) hasProviderPrefix(key string) bool {
	for _, prefix := range a.providerPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (a *Adapter) isProviderKey(key string) bool {
	if strings.Contains(key, providerMarker) {
		return true
	}
	for _, prefix := range a.providerPrefixes {
		if strings.Contains(key, prefix) {
			return true
		}
	}
	return false
}
