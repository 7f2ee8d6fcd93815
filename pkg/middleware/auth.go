package middleware

import (
	"net/http"
	"strings"

	"github.com/hexagonlabs/roster/pkg/contextkeys"
	"github.com/hexagonlabs/roster/pkg/httputil"
	"github.com/hexagonlabs/roster/pkg/identity"
)

// AuthMiddleware resolves bearer tokens to caller identities
type AuthMiddleware struct {
	identity identity.Service
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. In optional
// mode anonymous requests continue with no identity in the context.
func NewAuthMiddleware(identitySvc identity.Service, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		identity: identitySvc,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.identity.VerifyToken(r.Context(), parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithValue(r.Context(), contextkeys.AuthKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts the caller identity from a request, nil when
// the request is anonymous
func GetAuthContext(r *http.Request) *identity.AuthContext {
	val := r.Context().Value(contextkeys.AuthKey)
	if val == nil {
		return nil
	}
	authCtx, ok := val.(*identity.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// CallerUser returns the authenticated user, nil for anonymous requests
func CallerUser(r *http.Request) *identity.User {
	authCtx := GetAuthContext(r)
	if authCtx == nil {
		return nil
	}
	return authCtx.User
}
