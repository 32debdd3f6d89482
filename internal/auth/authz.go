package auth

import (
	"net/http"
	"slices"
)

// Permission represents an authorized action
type Permission string

const (
	// PermSignInsRead allows reading every user's sign-in records.
	PermSignInsRead Permission = "signins:read"
	// PermSignInsWrite allows recording an attempt for any user.
	PermSignInsWrite Permission = "signins:write"
	// PermSignInsWriteOwn allows recording an attempt for the caller only:
	// their own user id, or a failed attempt with no user id when anonymous.
	PermSignInsWriteOwn Permission = "signins:write_own"
)

// PrincipalType classifies callers for authorization.
type PrincipalType string

const (
	PrincipalTypeAdmin     PrincipalType = "admin"
	PrincipalTypeService   PrincipalType = "service"
	PrincipalTypeUser      PrincipalType = "user"
	PrincipalTypeAnonymous PrincipalType = "anonymous"
)

// RolePermissions maps principal types to allowed permissions
var RolePermissions = map[PrincipalType][]Permission{
	PrincipalTypeAdmin: {
		PermSignInsRead,
		PermSignInsWrite,
	},
	PrincipalTypeService: {
		PermSignInsRead,
		PermSignInsWrite,
	},
	PrincipalTypeUser: {
		PermSignInsWriteOwn,
	},
	PrincipalTypeAnonymous: {
		PermSignInsWriteOwn,
	},
}

// HasPermission checks if a principal type has a specific permission
func HasPermission(principalType PrincipalType, perm Permission) bool {
	perms, ok := RolePermissions[principalType]
	if !ok {
		return false
	}
	return slices.Contains(perms, perm)
}

// Can reports whether the principal holds perm. A nil principal holds nothing.
func (p *Principal) Can(perm Permission) bool {
	if p == nil {
		return false
	}
	return HasPermission(p.Type(), perm)
}

// CanRecord reports whether the principal may record an attempt for userID.
func (p *Principal) CanRecord(userID string, success bool) bool {
	if p.Can(PermSignInsWrite) {
		return true
	}
	if !p.Can(PermSignInsWriteOwn) {
		return false
	}
	if p.UserID == "" {
		return userID == "" && !success
	}
	return userID == p.UserID
}

// Require wraps next so it only runs for principals holding one of perms.
// Missing credentials get 401, insufficient ones 403.
func Require(next http.Handler, perms ...Permission) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromContext(r.Context())
		if principal == nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		if !slices.ContainsFunc(perms, principal.Can) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}

		next.ServeHTTP(w, r)
	})
}
