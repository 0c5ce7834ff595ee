package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mitrakirim/api/internal/platform/httpx"
)

const (
	defaultIDHeader     = "X-Principal-Id"
	defaultRoleHeader   = "X-Principal-Role"
	defaultSecretHeader = "X-Gateway-Secret"
)

// Authenticator extracts the gateway-verified principal from request headers.
type Authenticator struct {
	idHeader     string
	roleHeader   string
	secretHeader string
	sharedSecret string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIDHeader overrides the header carrying the principal identifier.
func WithIDHeader(name string) Option {
	return func(a *Authenticator) {
		name = strings.TrimSpace(name)
		if name != "" {
			a.idHeader = name
		}
	}
}

// WithRoleHeader overrides the header carrying the principal role.
func WithRoleHeader(name string) Option {
	return func(a *Authenticator) {
		name = strings.TrimSpace(name)
		if name != "" {
			a.roleHeader = name
		}
	}
}

// WithSharedSecret requires callers to present the gateway shared secret.
// Requests without a matching secret header are rejected before the principal
// headers are read.
func WithSharedSecret(secret string) Option {
	return func(a *Authenticator) {
		a.sharedSecret = strings.TrimSpace(secret)
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{
		idHeader:     defaultIDHeader,
		roleHeader:   defaultRoleHeader,
		secretHeader: defaultSecretHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequirePrincipal rejects requests lacking gateway identity headers and, when
// allowedRoles are given, requests whose role falls outside them. The gateway
// strips these headers from external traffic, so their presence is trusted.
func (a *Authenticator) RequirePrincipal(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = NormalizeRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"unauthenticated", "identity service unavailable", http.StatusUnauthorized))
				return
			}

			if a.sharedSecret != "" {
				presented := strings.TrimSpace(r.Header.Get(a.secretHeader))
				if subtle.ConstantTimeCompare([]byte(presented), []byte(a.sharedSecret)) != 1 {
					httpx.WriteError(r.Context(), w, httpx.NewError(
						"unauthenticated", "invalid gateway credentials", http.StatusUnauthorized))
					return
				}
			}

			id := strings.TrimSpace(r.Header.Get(a.idHeader))
			role := NormalizeRole(r.Header.Get(a.roleHeader))
			if id == "" || role == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"unauthenticated", "missing or invalid principal headers", http.StatusUnauthorized))
				return
			}

			if len(allowed) > 0 {
				if _, ok := allowed[role]; !ok {
					httpx.WriteError(r.Context(), w, httpx.NewError(
						"forbidden", "principal role not permitted for this resource", http.StatusForbidden))
					return
				}
			}

			ctx := WithPrincipal(r.Context(), &Principal{ID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
