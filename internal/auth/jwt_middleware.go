// Package auth authenticates admin API callers from identity provider access
// tokens and authorizes them by their storefront role.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
)

// Token roles issued by the identity provider.
const (
	TokenRoleAnon          = "anon"
	TokenRoleAuthenticated = "authenticated"
	TokenRoleService       = "service_role"
)

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims are the access token claims the API relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller added to the request context.
type Principal struct {
	UserID    string
	Email     string
	TokenRole string
	// Role is the storefront role of an authenticated user, "" when unknown.
	Role string
}

// Type maps the principal onto the permission table.
func (p *Principal) Type() PrincipalType {
	switch {
	case p == nil:
		return ""
	case p.TokenRole == TokenRoleService:
		return PrincipalTypeService
	case p.TokenRole == TokenRoleAnon:
		return PrincipalTypeAnonymous
	case p.Role == models.RoleAdmin:
		return PrincipalTypeAdmin
	default:
		return PrincipalTypeUser
	}
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// Verifier checks HS256 access tokens signed with the provider's JWT secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify checks the signature and expiry of tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	switch claims.Role {
	case TokenRoleAnon, TokenRoleService:
	case TokenRoleAuthenticated:
		if claims.Subject == "" {
			return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidToken, claims.Role)
	}

	return claims, nil
}

// Authenticator resolves bearer tokens into principals.
type Authenticator struct {
	verifier *Verifier
	roles    store.RoleStore
}

// NewAuthenticator creates an authenticator that looks up user roles in roles.
func NewAuthenticator(verifier *Verifier, roles store.RoleStore) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		roles:    roles,
	}
}

// Middleware adds the principal for a valid bearer token to the request
// context. Requests without a token pass through unauthenticated; routes
// enforce access with Require. An invalid token is rejected with 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearerToken(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := a.verifier.Verify(tokenString)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to verify access token")
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			principal := &Principal{
				UserID:    claims.Subject,
				Email:     claims.Email,
				TokenRole: claims.Role,
			}

			if claims.Role == TokenRoleAuthenticated {
				role, err := a.roles.GetUserRole(r.Context(), claims.Subject)
				switch {
				case errors.Is(err, store.ErrUserNotFound):
				case err != nil:
					log.Error().Err(err).Str("user_id", claims.Subject).Msg("Failed to look up user role")
					writeError(w, http.StatusServiceUnavailable, "role lookup failed")
					return
				default:
					principal.Role = role
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

func writeError(w http.ResponseWriter, status int, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
