package models

import (
	"crypto/sha256"
	"time"

	"github.com/mr-tron/base58"
)

// Role values stored in the users table.
const (
	RoleAdmin    = "ADMIN"    // Back office administrator
	RoleCustomer = "CUSTOMER" // Storefront customer
	RoleUnknown  = ""         // Unauthenticated or not yet looked up
)

// User is the stable identity carried by a session.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the credential bundle issued by the identity provider.
// A session without a user is treated as absent.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // epoch seconds
	User         *User  `json:"user"`
}

// HasUser returns true if the session carries a user.
func (s *Session) HasUser() bool {
	return s != nil && s.User != nil
}

// IsValid returns true if the session has a user with both id and email populated.
func (s *Session) IsValid() bool {
	return s.HasUser() && s.User.ID != "" && s.User.Email != ""
}

// UserID returns the session's user id, or "" when there is no user.
func (s *Session) UserID() string {
	if !s.HasUser() {
		return ""
	}
	return s.User.ID
}

// Expiry returns the access token expiry as a time.
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin returns true if the access token expires within d of now.
// A zero ExpiresAt is treated as unknown and never expiring.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(d).After(s.Expiry())
}

// Fingerprint identifies the session in logs without exposing tokens.
// Base58-encoded SHA256 of the refresh token, truncated to 12 characters.
func (s *Session) Fingerprint() string {
	if s == nil {
		return ""
	}
	seed := s.RefreshToken
	if seed == "" {
		seed = s.AccessToken
	}
	if seed == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(seed))
	fp := base58.Encode(hash[:])
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}

// Clone returns a deep copy so callers can't mutate controller owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.User != nil {
		u := *s.User
		if s.User.UserMetadata != nil {
			u.UserMetadata = make(map[string]any, len(s.User.UserMetadata))
			for k, v := range s.User.UserMetadata {
				u.UserMetadata[k] = v
			}
		}
		clone.User = &u
	}
	return &clone
}

// Snapshot is the JSON form of a session written to durable storage.
// Existence of a snapshot is a hint, the provider's live session always wins.
type Snapshot struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
	ExpiresAt    int64  `json:"expires_at"`
}

// NewSnapshot builds the persisted form of a session.
func NewSnapshot(s *Session) *Snapshot {
	return &Snapshot{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         s.User,
		ExpiresAt:    s.ExpiresAt,
	}
}

// Restorable returns true if the snapshot holds both an access token and a user.
func (s *Snapshot) Restorable() bool {
	return s != nil && s.AccessToken != "" && s.User != nil
}

// Same returns true if both sessions carry the same tokens, expiry and user.
// User metadata is not compared.
func (s *Session) Same(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.AccessToken == o.AccessToken &&
		s.RefreshToken == o.RefreshToken &&
		s.ExpiresAt == o.ExpiresAt &&
		s.UserID() == o.UserID() &&
		s.email() == o.email()
}

func (s *Session) email() string {
	if !s.HasUser() {
		return ""
	}
	return s.User.Email
}
