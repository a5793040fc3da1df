package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/DukeRupert/quizauth/internal/handler"
	"github.com/DukeRupert/quizauth/internal/metrics"
	"github.com/DukeRupert/quizauth/internal/service"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// Limiter counts attempts per key within a fixed window.
type Limiter interface {
	// Allow records an attempt and reports whether it is within the limit.
	Allow(key string) bool
	Reset(key string)
	TimeUntilReset(key string) time.Duration
	Close()
}

// RateLimiter is an in-process Limiter. Counts are per replica.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]*rateLimitEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Call Close to stop the goroutine.
func NewRateLimiter(maxAttempts int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
		now:         time.Now,
		entries:     make(map[string]*rateLimitEntry),
		stop:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow records an attempt for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.entries[key]

	if !exists || now.Sub(entry.windowStart) > rl.window {
		rl.entries[key] = &rateLimitEntry{
			count:       1,
			windowStart: now,
		}
		return true
	}

	if entry.count < rl.maxAttempts {
		entry.count++
		return true
	}

	return false
}

// Reset clears the count for a key (e.g., after a successful login).
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// TimeUntilReset returns how long until the window for key ends.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, exists := rl.entries[key]
	if !exists {
		return 0
	}

	elapsed := rl.now().Sub(entry.windowStart)
	if elapsed >= rl.window {
		return 0
	}

	return rl.window - elapsed
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup periodically removes expired entries to bound memory.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictExpired()
		}
	}
}

func (rl *RateLimiter) evictExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, entry := range rl.entries {
		if now.Sub(entry.windowStart) > rl.window {
			delete(rl.entries, key)
		}
	}
}

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// RateLimitMiddleware wraps a rate limiter for use as HTTP middleware.
type RateLimitMiddleware struct {
	limiter Limiter
	logger  *slog.Logger
	onLimit func()

	// key picks the bucket for a request. Defaults to the client IP.
	key func(r *http.Request) string
}

// NewRateLimitMiddleware creates a new rate limit middleware.
func NewRateLimitMiddleware(limiter Limiter, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger,
		key:     getClientIP,
	}
}

// Limit returns middleware that answers 429 once a bucket exceeds the limit.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.key(r)

		if !m.limiter.Allow(key) {
			m.logger.Warn("rate limit exceeded",
				"ip", getClientIP(r),
				"path", r.URL.Path,
				"method", r.Method,
			)
			if m.onLimit != nil {
				m.onLimit()
			}

			retryAfter := int(m.limiter.TimeUntilReset(key).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			handler.RateLimitResponse(w, r, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Auth Rate Limiter (combined limiter for auth endpoints)
// =============================================================================

// AuthRateLimiter throttles login and registration.
//
// Login attempts are counted twice: per client IP and account, which a
// successful login for that account resets, and per client IP alone, which
// nothing resets before the window ends. Registration is counted per IP.
type AuthRateLimiter struct {
	loginLimiter    Limiter
	loginIPLimiter  Limiter
	registerLimiter Limiter
	logger          *slog.Logger
}

// AuthRateLimits configures AuthRateLimiter.
type AuthRateLimits struct {
	LoginAttempts    int // per IP and account
	LoginIPAttempts  int // per IP across all accounts
	LoginWindow      time.Duration
	RegisterAttempts int
	RegisterWindow   time.Duration
}

func (l AuthRateLimits) loginIPAttempts() int {
	if l.LoginIPAttempts < l.LoginAttempts {
		return l.LoginAttempts
	}
	return l.LoginIPAttempts
}

// NewAuthRateLimiter creates in-process rate limiters for auth endpoints.
func NewAuthRateLimiter(limits AuthRateLimits, logger *slog.Logger) *AuthRateLimiter {
	return &AuthRateLimiter{
		loginLimiter:    NewRateLimiter(limits.LoginAttempts, limits.LoginWindow, logger),
		loginIPLimiter:  NewRateLimiter(limits.loginIPAttempts(), limits.LoginWindow, logger),
		registerLimiter: NewRateLimiter(limits.RegisterAttempts, limits.RegisterWindow, logger),
		logger:          logger,
	}
}

// NewRedisAuthRateLimiter creates auth rate limiters whose counts are shared
// by every replica through Redis.
func NewRedisAuthRateLimiter(client redis.UniversalClient, limits AuthRateLimits, logger *slog.Logger) *AuthRateLimiter {
	return &AuthRateLimiter{
		loginLimiter:    NewRedisRateLimiter(client, "quizauth:ratelimit:login:", limits.LoginAttempts, limits.LoginWindow, logger),
		loginIPLimiter:  NewRedisRateLimiter(client, "quizauth:ratelimit:login-ip:", limits.loginIPAttempts(), limits.LoginWindow, logger),
		registerLimiter: NewRedisRateLimiter(client, "quizauth:ratelimit:register:", limits.RegisterAttempts, limits.RegisterWindow, logger),
		logger:          logger,
	}
}

// LimitLogin returns middleware for rate limiting login attempts.
func (a *AuthRateLimiter) LimitLogin(next http.Handler) http.Handler {
	onLimit := func() { metrics.LoginRecorded(metrics.ResultRateLimited) }

	perIP := NewRateLimitMiddleware(a.loginIPLimiter, a.logger)
	perIP.onLimit = onLimit

	perAccount := NewRateLimitMiddleware(a.loginLimiter, a.logger)
	perAccount.onLimit = onLimit
	perAccount.key = loginAttemptKey

	return withLoginAttemptKey(perIP.Limit(perAccount.Limit(next)))
}

// LimitRegister returns middleware for rate limiting registration attempts.
func (a *AuthRateLimiter) LimitRegister(next http.Handler) http.Handler {
	mw := NewRateLimitMiddleware(a.registerLimiter, a.logger)
	mw.onLimit = func() { metrics.RegistrationRecorded(metrics.ResultRateLimited) }
	return mw.Limit(next)
}

// ResetLogin clears the count for the client IP and account of a successful
// login. Attempts against other accounts and the per-IP count are kept.
func (a *AuthRateLimiter) ResetLogin(r *http.Request) {
	if key, ok := r.Context().Value(loginAttemptKeyCtx{}).(string); ok {
		a.loginLimiter.Reset(key)
	}
}

// Close stops the limiters' cleanup goroutines.
func (a *AuthRateLimiter) Close() {
	a.loginLimiter.Close()
	a.loginIPLimiter.Close()
	a.registerLimiter.Close()
}

// =============================================================================
// Login attempt key
// =============================================================================

// maxLoginPeekBytes matches the JSON body cap of the handlers.
const maxLoginPeekBytes = 1 << 20

type loginAttemptKeyCtx struct{}

// withLoginAttemptKey reads the email from the login body and stores the
// client IP plus normalized email in the request context. The body is
// replayed unchanged for the handler.
func withLoginAttemptKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := getClientIP(r) + "|" + peekLoginEmail(r)
		ctx := context.WithValue(r.Context(), loginAttemptKeyCtx{}, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loginAttemptKey(r *http.Request) string {
	if key, ok := r.Context().Value(loginAttemptKeyCtx{}).(string); ok {
		return key
	}
	return getClientIP(r) + "|"
}

func peekLoginEmail(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	peeked, err := io.ReadAll(io.LimitReader(r.Body, maxLoginPeekBytes))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(peeked), r.Body), r.Body}
	if err != nil {
		return ""
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(peeked, &body); err != nil {
		return ""
	}
	return service.NormalizeEmail(body.Email)
}

type readCloser struct {
	io.Reader
	io.Closer
}
