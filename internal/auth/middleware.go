// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tomtom215/scanguard/internal/logging"
)

type contextKey string

// ClaimsContextKey holds the validated *Claims in the request context.
const ClaimsContextKey contextKey = "claims"

// Middleware authenticates requests with bearer tokens.
type Middleware struct {
	jwtManager *JWTManager
	adminRole  string
}

// NewMiddleware creates the token middleware. adminRole is the role claim
// that grants access to admin endpoints and admin realtime events.
func NewMiddleware(jwtManager *JWTManager, adminRole string) *Middleware {
	if adminRole == "" {
		adminRole = "admin"
	}
	return &Middleware{jwtManager: jwtManager, adminRole: adminRole}
}

// Authenticate rejects requests without a valid token and stores the claims
// in the context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after Authenticate.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			http.Error(w, "Unauthorized: authentication required", http.StatusUnauthorized)
			return
		}
		if !m.IsAdmin(claims) {
			logging.Ctx(r.Context()).Warn().
				Str("subject", claims.Subject).
				Str("role", claims.Role).
				Str("path", r.URL.Path).
				Msg("Access denied: admin role required")
			http.Error(w, "Forbidden: admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after Authenticate. It admits the listed roles and
// the admin role; any other role gets 403.
func (m *Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{m.adminRole: {}}
	for _, role := range roles {
		if role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, "Unauthorized: authentication required", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				logging.Ctx(r.Context()).Warn().
					Str("subject", claims.Subject).
					Str("role", claims.Role).
					Str("path", r.URL.Path).
					Msg("Access denied: role not permitted")
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsAdmin reports whether claims carry the admin role.
func (m *Middleware) IsAdmin(claims *Claims) bool {
	return claims != nil && claims.Role == m.adminRole
}

// ClaimsFromContext returns the authenticated claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}

// extractToken reads the bearer token from the Authorization header, or
// from the access_token query parameter for websocket upgrades, which
// browsers cannot send headers on.
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if r.Header.Get("Upgrade") != "" {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", fmt.Errorf("unauthorized: missing token")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("unauthorized: invalid authorization header")
	}

	return parts[1], nil
}
