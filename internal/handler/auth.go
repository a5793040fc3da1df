// Package handler contains the JSON HTTP handlers for the auth service.
//
// This file implements register, login, logout and current-user lookup.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/quizauth/internal/auth"
	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/DukeRupert/quizauth/internal/service"
)

// CookieTransport writes the session cookie.
type CookieTransport interface {
	Attach(w http.ResponseWriter, token string)
	Clear(w http.ResponseWriter)
}

// LoginAttemptResetter forgets failed login attempts after a success.
type LoginAttemptResetter interface {
	ResetLogin(r *http.Request)
}

// AuthHandler handles authentication-related HTTP requests.
//
// Routes handled:
// - POST /api/auth/register -> Register
// - POST /api/auth/login    -> Login
// - POST /api/auth/logout   -> Logout
// - GET  /api/auth/me       -> Me (requires authentication)
// - GET  /api/auth/health   -> Health
type AuthHandler struct {
	userService service.UserService
	cookies     CookieTransport
	attempts    LoginAttemptResetter
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. attempts may be nil.
func NewAuthHandler(
	userService service.UserService,
	cookies CookieTransport,
	attempts LoginAttemptResetter,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		cookies:     cookies,
		attempts:    attempts,
		logger:      logger,
	}
}

// Register creates an account and signs the caller in.
//
// Responses:
// - 201 {"user": {...}} with the session cookie set
// - 400 validation failure or duplicate email
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	const op = "AuthHandler.Register"

	var params domain.RegisterParams
	if err := decodeJSON(w, r, op, &params); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.userService.Register(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.cookies.Attach(w, result.Token)
	writeJSON(w, http.StatusCreated, AuthResponse{User: NewUserResponse(result.User)})
}

// Login checks credentials and sets a fresh session cookie.
//
// Responses:
// - 200 {"user": {...}} with the session cookie set
// - 401 "Invalid email or password", no cookie
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "AuthHandler.Login"

	var params domain.LoginParams
	if err := decodeJSON(w, r, op, &params); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.userService.Login(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if h.attempts != nil {
		h.attempts.ResetLogin(r)
	}

	h.cookies.Attach(w, result.Token)
	writeJSON(w, http.StatusOK, AuthResponse{User: NewUserResponse(result.User)})
}

// Logout clears the session cookie. It always succeeds, signed in or not.
// A token copied before logout stays valid until it expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims := auth.ClaimsFromRequest(r); claims != nil {
		h.logger.Info("user logged out", "user_id", claims.UserID)
	}

	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Me returns the caller's own profile, looked up by the user_id claim.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromRequest(r)
	if claims == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	user, err := h.userService.GetByID(r.Context(), claims.UserID)
	if err != nil {
		// The token outlived its account.
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			h.logger.Info("token for missing user", "user_id", claims.UserID)
			UnauthorizedResponse(w, r, h.logger)
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{User: NewUserResponse(user)})
}

// Health reports liveness of the auth routes.
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Auth service is running"})
}
