package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
)

var _ store.SignInStore = (*SignInStore)(nil)

// SignInStore implements store.SignInStore using PostgreSQL.
type SignInStore struct {
	pool *pgxpool.Pool
}

// NewSignInStore creates a sign-in store sharing the pool with other stores.
func NewSignInStore(pool *pgxpool.Pool) *SignInStore {
	return &SignInStore{pool: pool}
}

// InsertSignIn appends a record.
func (s *SignInStore) InsertSignIn(ctx context.Context, r *models.SignInRecord) error {
	query := `
		INSERT INTO sign_in_records (
			id, user_id, email, success, failure_reason, session_id,
			ip_address, user_agent, device_info, location_info, sign_in_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.UserID,
		r.Email,
		r.Success,
		nullIfEmpty(r.FailureReason),
		nullIfEmpty(r.SessionID),
		nullIfEmpty(r.IPAddress),
		nullIfEmpty(r.UserAgent),
		r.DeviceInfo,
		r.LocationInfo,
		r.SignInAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sign-in: %w", mapPostgresError(err))
	}

	return nil
}

// ListSignIns returns matching records, newest first.
func (s *SignInStore) ListSignIns(ctx context.Context, q store.SignInQuery) ([]*models.SignInRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.UserID != "" {
		where = append(where, "user_id = "+arg(q.UserID))
	}
	if q.Since != nil {
		where = append(where, "sign_in_at >= "+arg(*q.Since))
	}
	if q.Until != nil {
		where = append(where, "sign_in_at <= "+arg(*q.Until))
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, user_id, email, success, failure_reason, session_id,
			ip_address, user_agent, device_info, location_info, sign_in_at
		FROM sign_in_records`)
	if len(where) > 0 {
		sb.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString("\n\t\tORDER BY sign_in_at DESC, id DESC")
	if q.Limit > 0 {
		sb.WriteString("\n\t\tLIMIT " + arg(q.Limit))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign-ins: %w", mapPostgresError(err))
	}

	records, err := pgx.CollectRows(rows, scanSignIn)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sign-ins: %w", mapPostgresError(err))
	}

	return records, nil
}

func scanSignIn(row pgx.CollectableRow) (*models.SignInRecord, error) {
	var (
		r                                              models.SignInRecord
		failureReason, sessionID, ipAddress, userAgent *string
	)

	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Email,
		&r.Success,
		&failureReason,
		&sessionID,
		&ipAddress,
		&userAgent,
		&r.DeviceInfo,
		&r.LocationInfo,
		&r.SignInAt,
	)
	if err != nil {
		return nil, err
	}

	r.FailureReason = deref(failureReason)
	r.SessionID = deref(sessionID)
	r.IPAddress = deref(ipAddress)
	r.UserAgent = deref(userAgent)

	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
