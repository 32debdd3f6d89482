package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/store"
)

var _ store.UserStore = (*UserStore)(nil)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a user store sharing the pool with other stores.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// PutUser upserts a user.
func (s *UserStore) PutUser(ctx context.Context, userID, email, role string) error {
	query := `
		INSERT INTO users (id, email, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, role = EXCLUDED.role, updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, userID, email, role); err != nil {
		return fmt.Errorf("failed to put user: %w", mapPostgresError(err))
	}

	log.Debug().Str("user_id", userID).Str("role", role).Msg("Put user")

	return nil
}

// GetUserRole returns the user's role.
func (s *UserStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user role: %w", mapPostgresError(err))
	}

	return role, nil
}
