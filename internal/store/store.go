package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/storefront/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrInvalidRole    = errors.New("invalid role")
	ErrSignInConflict = errors.New("sign-in record already exists")
)

// RoleStore looks up the role classification of a user.
type RoleStore interface {
	// GetUserRole returns users.role for the user, or ErrUserNotFound.
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// UserStore manages the users table.
type UserStore interface {
	RoleStore

	// PutUser creates or replaces a user and their role.
	PutUser(ctx context.Context, userID, email, role string) error
}

// SignInStore appends and reads sign-in audit records.
// Records are immutable once inserted.
type SignInStore interface {
	// InsertSignIn appends a record.
	InsertSignIn(ctx context.Context, record *models.SignInRecord) error

	// ListSignIns returns records matching the query, newest first.
	ListSignIns(ctx context.Context, q SignInQuery) ([]*models.SignInRecord, error)
}

// SignInQuery filters sign-in records.
type SignInQuery struct {
	// UserID restricts results to one user when set.
	UserID string
	// Since and Until bound sign_in_at inclusively when set.
	Since *time.Time
	Until *time.Time
	// Limit caps the result set; zero or negative means unlimited.
	Limit int
}

// Validate checks the query is well formed.
func (q SignInQuery) Validate() error {
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return fmt.Errorf("%w: until %s is before since %s", ErrInvalidQuery,
			q.Until.Format(time.RFC3339), q.Since.Format(time.RFC3339))
	}
	return nil
}

// Matches returns true if the record falls inside the query's filters.
// Limit is not considered.
func (q SignInQuery) Matches(r *models.SignInRecord) bool {
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.Since != nil && r.SignInAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && r.SignInAt.After(*q.Until) {
		return false
	}
	return true
}

// ValidRole returns true for the roles the users table accepts.
func ValidRole(role string) bool {
	return role == models.RoleAdmin || role == models.RoleCustomer
}
