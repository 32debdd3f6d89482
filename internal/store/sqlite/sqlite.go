// Package sqlite implements the data stores on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
)

var (
	_ store.UserStore   = (*Store)(nil)
	_ store.SignInStore = (*Store)(nil)
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id    TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		role  TEXT NOT NULL CHECK (role IN ('ADMIN', 'CUSTOMER'))
	)`,
	`CREATE TABLE IF NOT EXISTS sign_in_records (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		email          TEXT NOT NULL,
		success        INTEGER NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		session_id     TEXT NOT NULL DEFAULT '',
		ip_address     TEXT NOT NULL DEFAULT '',
		user_agent     TEXT NOT NULL DEFAULT '',
		device_info    TEXT NOT NULL DEFAULT '{}',
		location_info  TEXT,
		sign_in_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sign_in_records_user_sign_in_at
		ON sign_in_records (user_id, sign_in_at DESC)`,
}

// Store implements store.UserStore and store.SignInStore on SQLite.
// sign_in_at is stored as unix nanoseconds so ordering and range filters
// compare integers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	log.Debug().Str("path", path).Msg("Opened SQLite store")

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutUser upserts a user.
func (s *Store) PutUser(ctx context.Context, userID, email, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, role) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, role = excluded.role
	`, userID, email, role)
	if err != nil {
		return fmt.Errorf("failed to put user: %w", mapSQLiteError(err))
	}
	return nil
}

// GetUserRole returns the user's role.
func (s *Store) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user role: %w", err)
	}
	return role, nil
}

// InsertSignIn appends a record.
func (s *Store) InsertSignIn(ctx context.Context, r *models.SignInRecord) error {
	deviceInfo, err := json.Marshal(r.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to encode device info: %w", err)
	}

	var locationInfo any
	if r.LocationInfo != nil {
		data, err := json.Marshal(r.LocationInfo)
		if err != nil {
			return fmt.Errorf("failed to encode location info: %w", err)
		}
		locationInfo = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sign_in_records (
			id, user_id, email, success, failure_reason, session_id,
			ip_address, user_agent, device_info, location_info, sign_in_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID.String(),
		r.UserID,
		r.Email,
		r.Success,
		r.FailureReason,
		r.SessionID,
		r.IPAddress,
		r.UserAgent,
		string(deviceInfo),
		locationInfo,
		r.SignInAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sign-in: %w", mapSQLiteError(err))
	}

	return nil
}

// ListSignIns returns matching records, newest first.
func (s *Store) ListSignIns(ctx context.Context, q store.SignInQuery) ([]*models.SignInRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Since != nil {
		where = append(where, "sign_in_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		where = append(where, "sign_in_at <= ?")
		args = append(args, q.Until.UnixNano())
	}

	query := `SELECT id, user_id, email, success, failure_reason, session_id,
		ip_address, user_agent, device_info, location_info, sign_in_at
		FROM sign_in_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sign_in_at DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign-ins: %w", err)
	}
	defer rows.Close()

	var records []*models.SignInRecord
	for rows.Next() {
		r, err := scanSignIn(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sign-ins: %w", err)
	}

	return records, nil
}

func scanSignIn(rows *sql.Rows) (*models.SignInRecord, error) {
	var (
		r            models.SignInRecord
		id           string
		deviceInfo   string
		locationInfo sql.NullString
		signInAt     int64
	)

	err := rows.Scan(&id, &r.UserID, &r.Email, &r.Success, &r.FailureReason, &r.SessionID,
		&r.IPAddress, &r.UserAgent, &deviceInfo, &locationInfo, &signInAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sign-in: %w", err)
	}

	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse sign-in id: %w", err)
	}
	if err := json.Unmarshal([]byte(deviceInfo), &r.DeviceInfo); err != nil {
		return nil, fmt.Errorf("failed to decode device info: %w", err)
	}
	if locationInfo.Valid {
		r.LocationInfo = &models.LocationInfo{}
		if err := json.Unmarshal([]byte(locationInfo.String), r.LocationInfo); err != nil {
			return nil, fmt.Errorf("failed to decode location info: %w", err)
		}
	}
	r.SignInAt = time.Unix(0, signInAt).UTC()

	return &r, nil
}

func mapSQLiteError(err error) error {
	switch {
	case errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY):
		return fmt.Errorf("%w: %w", store.ErrSignInConflict, err)
	case errors.Is(err, sqlite3.CONSTRAINT_CHECK):
		return fmt.Errorf("%w: %w", store.ErrInvalidRole, err)
	default:
		return err
	}
}
