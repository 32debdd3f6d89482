package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed classification of provider errors.
type ErrorKind int

const (
	// KindOther covers every error that doesn't describe a dead session.
	KindOther ErrorKind = iota
	// KindRefreshTokenInvalid means the refresh token was revoked, reused or never existed.
	KindRefreshTokenInvalid
	// KindSessionNotFound means the server no longer knows the session.
	KindSessionNotFound
	// KindSessionMissing means there was no local session to act on.
	KindSessionMissing
)

func (k ErrorKind) String() string {
	switch k {
	case KindRefreshTokenInvalid:
		return "refresh_token_invalid"
	case KindSessionNotFound:
		return "session_not_found"
	case KindSessionMissing:
		return "session_missing"
	default:
		return "other"
	}
}

// Terminal returns true if the session can't be recovered and must be cleared.
func (k ErrorKind) Terminal() bool {
	return k == KindRefreshTokenInvalid || k == KindSessionNotFound
}

// Error codes and message fragments that mark a session as permanently invalid.
const (
	CodeRefreshTokenNotFound = "refresh_token_not_found"
	CodeSessionNotFound      = "session_not_found"
)

var refreshTokenMessages = []string{
	"Invalid Refresh Token",
	"Refresh Token Not Found",
	CodeRefreshTokenNotFound,
}

// AuthError is a provider error normalised at the provider boundary.
type AuthError struct {
	Status  int
	Code    string
	Message string
	Kind    ErrorKind
}

// NewAuthError builds an AuthError and classifies it.
func NewAuthError(status int, code, message string) *AuthError {
	return &AuthError{
		Status:  status,
		Code:    code,
		Message: message,
		Kind:    Classify(code, message),
	}
}

func (e *AuthError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("auth error [%s]: %s", e.Code, e.Message)
	case e.Message != "":
		return "auth error: " + e.Message
	case e.Code != "":
		return "auth error [" + e.Code + "]"
	default:
		return fmt.Sprintf("auth error (status %d)", e.Status)
	}
}

// Classify maps a raw provider code and message to an ErrorKind.
func Classify(code, message string) ErrorKind {
	switch code {
	case CodeRefreshTokenNotFound:
		return KindRefreshTokenInvalid
	case CodeSessionNotFound:
		return KindSessionNotFound
	}

	for _, m := range refreshTokenMessages {
		if strings.Contains(message, m) {
			return KindRefreshTokenInvalid
		}
	}
	if strings.Contains(message, CodeSessionNotFound) {
		return KindSessionNotFound
	}

	return KindOther
}

// IsRefreshTokenError returns true if err means the session is unrecoverable.
// Errors that aren't *AuthError are classified by their message.
func IsRefreshTokenError(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr == nil {
			return false
		}
		if authErr.Kind.Terminal() {
			return true
		}
		return Classify(authErr.Code, authErr.Message).Terminal()
	}

	return Classify("", err.Error()).Terminal()
}
