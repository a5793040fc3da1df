// Package auth provides authentication context helpers.
//
// This package is imported by both middleware and handler packages without
// causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/quizauth/internal/token"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// claimsContextKey stores the verified token claims.
	claimsContextKey contextKey = "claims"
)

// GetClaims retrieves the verified identity from the context.
//
// Returns nil for anonymous requests.
//
// Usage:
//
//	claims := auth.GetClaims(r.Context())
//	if claims == nil {
//	    // Handle unauthenticated request
//	}
func GetClaims(ctx context.Context) *token.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}

// ClaimsFromRequest is a convenience wrapper around GetClaims.
func ClaimsFromRequest(r *http.Request) *token.Claims {
	return GetClaims(r.Context())
}

// SetClaims stores verified claims in the context. Called by the session
// middleware after a token verifies.
func SetClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// IsAuthenticated reports whether the context carries an identity.
func IsAuthenticated(ctx context.Context) bool {
	return GetClaims(ctx) != nil
}
