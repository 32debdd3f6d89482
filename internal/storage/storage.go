// Package storage provides the durable client-side key-value medium used to
// persist session snapshots. The contract mirrors browser Web Storage: string
// keys and values, positional key enumeration and last-write-wins semantics.
package storage

import (
	"errors"
	"sort"
)

// Sentinel errors
var (
	// ErrQuotaExceeded is returned when a write would exceed the storage quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnavailable is returned when the storage medium can't be used at all.
	ErrUnavailable = errors.New("storage unavailable")
)

// Storage is a synchronous string key-value store scoped to one origin.
type Storage interface {
	// GetItem returns the value for key and whether it was present.
	GetItem(key string) (string, bool, error)
	// SetItem stores value under key, replacing any previous value.
	SetItem(key, value string) error
	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error
	// Key returns the key at index in the store's enumeration order.
	Key(index int) (string, bool, error)
	// Length returns the number of stored keys.
	Length() (int, error)
}

// Keys returns a snapshot of all keys so callers can remove entries while
// iterating without skipping any.
func Keys(s Storage) ([]string, error) {
	n, err := s.Length()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key, ok, err := s.Key(i)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func sortedKeys(items map[string]string) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
