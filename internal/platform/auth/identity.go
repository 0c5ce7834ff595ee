package auth

import (
	"context"
	"strings"
)

// Role constants mirror the actor taxonomy used throughout the order engine.
const (
	RoleUser   = "USER"
	RoleMitra  = "MITRA"
	RoleDriver = "DRIVER"
	RoleSystem = "SYSTEM"
)

var knownRoles = map[string]struct{}{
	RoleUser:   {},
	RoleMitra:  {},
	RoleDriver: {},
	RoleSystem: {},
}

// Principal captures the verified caller identity injected by the API gateway.
// The gateway terminates authentication; this service only consumes its claims.
type Principal struct {
	ID   string
	Role string
}

// HasRole reports whether the principal carries the requested role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return p.Role == NormalizeRole(role)
}

// HasAnyRole reports whether the principal carries any of the provided roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

// NormalizeRole canonicalises a role string, returning "" when unknown.
func NormalizeRole(role string) string {
	role = strings.ToUpper(strings.TrimSpace(role))
	if _, ok := knownRoles[role]; !ok {
		return ""
	}
	return role
}

type contextKey string

const principalContextKey contextKey = "github.com/mitrakirim/api/internal/platform/auth/principal"

// WithPrincipal stores the principal within the context for downstream handlers.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext retrieves the principal previously stored in context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}
