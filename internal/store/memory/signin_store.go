package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
)

var _ store.SignInStore = (*SignInStore)(nil)

// SignInStore implements store.SignInStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type SignInStore struct {
	mu      sync.RWMutex
	records []*models.SignInRecord // insertion order
	ids     map[string]struct{}
}

// NewSignInStore creates a new in-memory sign-in store.
func NewSignInStore() *SignInStore {
	return &SignInStore{
		ids: make(map[string]struct{}),
	}
}

// InsertSignIn appends a copy of the record.
func (s *SignInStore) InsertSignIn(ctx context.Context, record *models.SignInRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := record.ID.String()
	if _, exists := s.ids[id]; exists {
		return store.ErrSignInConflict
	}

	clone := *record
	if record.LocationInfo != nil {
		loc := *record.LocationInfo
		clone.LocationInfo = &loc
	}

	s.records = append(s.records, &clone)
	s.ids[id] = struct{}{}

	return nil
}

// ListSignIns returns copies of matching records, newest first.
func (s *SignInStore) ListSignIns(ctx context.Context, q store.SignInQuery) ([]*models.SignInRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []*models.SignInRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if r := s.records[i]; q.Matches(r) {
			clone := *r
			out = append(out, &clone)
		}
	}
	s.mu.RUnlock()

	// stable so records sharing a timestamp keep newest-inserted first
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SignInAt.After(out[j].SignInAt)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	return out, nil
}
