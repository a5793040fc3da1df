// Package middleware contains HTTP middleware for the auth service.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using Stack.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/quizauth/internal/auth"
	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/DukeRupert/quizauth/internal/handler"
	"github.com/DukeRupert/quizauth/internal/metrics"
	"github.com/DukeRupert/quizauth/internal/token"
)

// TokenVerifier checks a session token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// TokenExtractor reads the session token from a request.
type TokenExtractor interface {
	Extract(r *http.Request) (string, bool)
}

// AuthMiddleware resolves the caller's identity and guards protected routes.
//
// Create one instance and use its methods as middleware.
type AuthMiddleware struct {
	tokens    TokenVerifier
	transport TokenExtractor
	logger    *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
//
// Parameters:
// - tokens: verifies signature and expiry of session tokens
// - transport: extracts the token from the cookie or bearer header
// - logger: structured logger for auth events
func NewAuthMiddleware(tokens TokenVerifier, transport TokenExtractor, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:    tokens,
		transport: transport,
		logger:    logger,
	}
}

// =============================================================================
// Authenticate Middleware
// =============================================================================

// Authenticate attaches verified claims to the request context when the
// request carries a valid token.
//
// It never rejects a request. A missing, malformed, forged or expired token
// leaves the request anonymous and the handler chain continues; protected
// routes enforce access with RequireAuth or RequireRole. The reason a token
// failed is logged and counted, never sent to the client.
//
// Flow:
//
//	Request -> Authenticate -> Handler
//	           |
//	           +-> Extract token (cookie, then bearer header)
//	           +-> Verify signature and expiry
//	           +-> Set claims in context (if valid)
//	           +-> Call next handler (always)
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Already resolved further up the chain.
		if auth.IsAuthenticated(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := m.transport.Extract(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.tokens.Verify(raw)
		metrics.TokenVerified(token.Reason(err))
		if err != nil {
			m.logger.Debug("token rejected",
				"reason", token.Reason(err),
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetClaims(r.Context(), claims)))
	})
}

// =============================================================================
// Authorization Middleware
// =============================================================================

// RequireAuth rejects anonymous requests with 401.
//
// IMPORTANT: This middleware must be used AFTER Authenticate in the chain.
//
//	mux.Handle("GET /api/auth/me", Stack(authMw.Authenticate, authMw.RequireAuth)(meHandler))
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAuthenticated(r.Context()) {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole allows the request when the caller holds any of roles.
// Anonymous callers get 401; authenticated callers without a role get 403.
func (m *AuthMiddleware) RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.ClaimsFromRequest(r)
			if claims == nil {
				handler.UnauthorizedResponse(w, r, m.logger)
				return
			}
			if !claims.Roles.HasAny(roles...) {
				m.logger.Info("role check failed",
					"user_id", claims.UserID,
					"path", r.URL.Path,
				)
				handler.ForbiddenResponse(w, r, m.logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw.Handler, authMw.Authenticate, authMw.RequireAuth)
//	mux.Handle("GET /api/auth/me", stack(meHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).Authenticate
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireAuth
)
