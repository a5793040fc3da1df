// Package router assembles the HTTP surface of the auth service: the route
// table, per-route guards and the global middleware chain.
package router

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/quizauth/internal"
	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/DukeRupert/quizauth/internal/handler"
	"github.com/DukeRupert/quizauth/internal/metrics"
	"github.com/DukeRupert/quizauth/internal/middleware"
	"github.com/DukeRupert/quizauth/internal/service"
	"github.com/DukeRupert/quizauth/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the constructed components the routes need.
type Deps struct {
	Config  *internal.Config
	Users   service.UserService
	Tokens  middleware.TokenVerifier
	Cookies *session.Transport
	Limiter *middleware.AuthRateLimiter
	Logger  *slog.Logger

	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

// New returns the fully wrapped handler for the server.
func New(d Deps) http.Handler {
	cfg := d.Config
	logger := d.Logger

	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// Middleware
	clientIPMw := middleware.NewClientIPMiddleware(cfg.TrustedProxyPrefixes())
	authMw := middleware.NewAuthMiddleware(d.Tokens, d.Cookies, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(!cfg.IsDevelopment())
	corsMw := middleware.NewCORSMiddleware(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}, logger)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)

	// Handlers
	authHandler := handler.NewAuthHandler(d.Users, d.Cookies, d.Limiter, logger)
	userHandler := handler.NewUserHandler(d.Users, logger)

	requireUser := middleware.Stack(authMw.RequireAuth)
	requireAdmin := middleware.Stack(authMw.RequireAuth, authMw.RequireRole(domain.RoleAdmin))

	// ==========================================================================
	// Routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsAuth.Handler(metricsHandler))

	// Auth routes
	mux.Handle("POST /api/auth/register", d.Limiter.LimitRegister(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/auth/login", d.Limiter.LimitLogin(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.Handle("GET /api/auth/me", requireUser(http.HandlerFunc(authHandler.Me)))
	mux.HandleFunc("GET /api/auth/health", authHandler.Health)

	// User lookups
	mux.Handle("GET /api/users/{id}", requireUser(http.HandlerFunc(userHandler.GetByID)))
	mux.Handle("GET /api/users/email/{email}", requireUser(http.HandlerFunc(userHandler.GetByEmail)))
	mux.Handle("GET /api/users", requireAdmin(http.HandlerFunc(userHandler.List)))

	// Outermost first.
	global := middleware.Stack(
		clientIPMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
		securityMw.Handler,
		corsMw.Handler,
		authMw.Authenticate,
	)

	return global(metrics.Routes(mux))
}
