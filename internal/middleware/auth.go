// Package middleware provides the HTTP middleware chain for the storefront API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/internal/app/auth"
	"github.com/beatforge/storefront/internal/app/domain/account"
	"github.com/beatforge/storefront/internal/httputil"
	"github.com/beatforge/storefront/pkg/logger"
)

type contextKey string

const claimsKey contextKey = "auth-claims"

// Authenticator verifies bearer tokens and stores the claims in the request
// context. Requests without an Authorization header pass through anonymous;
// endpoints that need an identity enforce it with RequireAccount.
type Authenticator struct {
	tokens *auth.Manager
	log    *logger.Logger
}

func NewAuthenticator(tokens *auth.Manager, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Authenticator{tokens: tokens, log: log}
}

// Handler returns the authentication middleware. A present but invalid token
// is rejected outright; silently downgrading to anonymous would mask expired
// sessions from the client.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteError(w, apperr.Unauthorized("invalid authorization header"))
			return
		}

		claims, err := a.tokens.Verify(parts[1])
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Warn("token verification failed")
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims returns the verified claims from the context, or nil for an
// anonymous request.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// GetAccountID returns the authenticated account ID, or "" when anonymous.
func GetAccountID(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.AccountID
	}
	return ""
}

// WithClaims injects claims into a context. Test hook.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// RequireAccount rejects anonymous requests.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			httputil.WriteError(w, apperr.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests that lack an admin session.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil {
			httputil.WriteError(w, apperr.Unauthorized("authentication required"))
			return
		}
		if claims.Role != account.RoleAdmin {
			httputil.WriteError(w, apperr.Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
