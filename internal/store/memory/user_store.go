package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfeidau/storefront/internal/store"
)

var _ store.UserStore = (*UserStore)(nil)

type user struct {
	email string
	role  string
}

// UserStore implements store.UserStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]user // user id -> user
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]user),
	}
}

// PutUser creates or replaces a user.
func (s *UserStore) PutUser(ctx context.Context, userID, email, role string) error {
	if !store.ValidRole(role) {
		return fmt.Errorf("%w: %q", store.ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = user{email: email, role: role}
	return nil
}

// GetUserRole returns the user's role.
func (s *UserStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return "", store.ErrUserNotFound
	}
	return u.role, nil
}
