package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/quizauth/internal"
	"github.com/DukeRupert/quizauth/internal/middleware"
	"github.com/DukeRupert/quizauth/internal/repository"
	"github.com/DukeRupert/quizauth/internal/service"
	"github.com/DukeRupert/quizauth/internal/session"
	"github.com/DukeRupert/quizauth/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *internal.Config {
	return &internal.Config{
		Env:                  "production",
		DBDriver:             internal.DriverMemory,
		JWTSecret:            "0123456789abcdef0123456789abcdef",
		JWTExpirationMS:      86400000,
		JWTIssuer:            "quiz-auth-service",
		JWTAudience:          "quiz-application",
		CookieName:           "token",
		CookieSameSite:       "strict",
		MinPasswordLength:    6,
		MaxLoginAttempts:     5,
		LoginIPAttempts:      50,
		LockoutDuration:      30 * time.Minute,
		RegisterAttempts:     10,
		RegisterWindow:       time.Hour,
		AdminEmails:          []string{"root@quiz.example.com"},
		CORSAllowedOrigins:   []string{"http://localhost:3000"},
		CORSAllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders:   []string{"*"},
		CORSAllowCredentials: true,
		CORSMaxAge:           3600,
		MetricsUsername:      "prom",
		MetricsPassword:      "scrape",
	}
}

func newTestServer(t *testing.T, cfg *internal.Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codec, err := token.New(cfg.TokenConfig())
	require.NoError(t, err)

	limiter := middleware.NewAuthRateLimiter(middleware.AuthRateLimits{
		LoginAttempts:    cfg.MaxLoginAttempts,
		LoginIPAttempts:  cfg.LoginIPAttempts,
		LoginWindow:      cfg.LockoutDuration,
		RegisterAttempts: cfg.RegisterAttempts,
		RegisterWindow:   cfg.RegisterWindow,
	}, logger)
	t.Cleanup(limiter.Close)

	users := service.NewUserService(repository.NewMemoryStore(), codec, logger, service.Options{
		MinPasswordLength: cfg.MinPasswordLength,
		AdminEmails:       cfg.AdminEmails,
		BcryptCost:        bcrypt.MinCost,
	})

	return New(Deps{
		Config:  cfg,
		Users:   users,
		Tokens:  codec,
		Cookies: session.New(cfg.SessionConfig()),
		Limiter: limiter,
		Logger:  logger,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
}

type userBody struct {
	User struct {
		ID       int64    `json:"id"`
		Email    string   `json:"email"`
		Roles    []string `json:"roles"`
		Password *string  `json:"password"`
	} `json:"user"`
}

func send(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatalf("no session cookie in response (Set-Cookie: %v)", rec.Header().Values("Set-Cookie"))
	return nil
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) userBody {
	t.Helper()
	var body userBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func register(t *testing.T, h http.Handler, email, password string) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	rec := send(t, h, http.MethodPost, "/api/auth/register",
		`{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return rec, sessionCookie(t, rec)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRegisterThenDuplicate(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec, cookie := register(t, h, "a@b.com", "secret1")

	body := decodeUser(t, rec)
	assert.Positive(t, body.User.ID)
	assert.Equal(t, "a@b.com", body.User.Email)
	assert.Nil(t, body.User.Password)
	assert.Equal(t, []string{"ROLE_USER"}, body.User.Roles)
	assert.NotContains(t, rec.Body.String(), cookie.Value, "token must not be in the body")

	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 86400, cookie.MaxAge, "cookie lives exactly as long as the token")

	dup := send(t, h, http.MethodPost, "/api/auth/register", `{"email":"a@b.com","password":"secret1"}`)
	assert.Equal(t, http.StatusBadRequest, dup.Code)
	assert.Contains(t, dup.Body.String(), "already exists")
	assert.Empty(t, dup.Header().Values("Set-Cookie"))
}

func TestLoginThenMe(t *testing.T) {
	h := newTestServer(t, testConfig())

	regRec, _ := register(t, h, "a@b.com", "secret1")
	id := decodeUser(t, regRec).User.ID

	login := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, login.Code)
	cookie := sessionCookie(t, login)

	me := send(t, h, http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, id, decodeUser(t, me).User.ID)
}

func TestMe_BearerFallback(t *testing.T) {
	h := newTestServer(t, testConfig())
	_, cookie := register(t, h, "a@b.com", "secret1")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newTestServer(t, testConfig())
	register(t, h, "a@b.com", "secret1")

	wrong := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret2"}`)
	unknown := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"nobody@b.com","password":"secret1"}`)

	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Header().Values("Set-Cookie"))
		assert.JSONEq(t, `{"message":"Invalid email or password"}`, rec.Body.String())
	}
}

func TestMe_NoCredentials(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := send(t, h, http.MethodGet, "/api/auth/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Authentication required"}`, rec.Body.String())
}

func TestMe_InvalidToken(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := send(t, h, http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: "token", Value: "a.b.c"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "signature")
}

func TestLogout(t *testing.T) {
	h := newTestServer(t, testConfig())
	_, cookie := register(t, h, "a@b.com", "secret1")

	for _, cookies := range [][]*http.Cookie{{cookie}, nil} {
		rec := send(t, h, http.MethodPost, "/api/auth/logout", "", cookies...)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"Logged out successfully"}`, rec.Body.String())

		headers := rec.Header().Values("Set-Cookie")
		require.Len(t, headers, 1)
		assert.Equal(t, "token=; Path=/; Max-Age=0; HttpOnly; Secure; SameSite=Strict", headers[0])
	}
}

func TestUserRoutes_Authorization(t *testing.T) {
	h := newTestServer(t, testConfig())

	userRec, userCookie := register(t, h, "a@b.com", "secret1")
	userID := decodeUser(t, userRec).User.ID
	adminRec, adminCookie := register(t, h, "Root@Quiz.Example.com", "secret1")
	assert.ElementsMatch(t, []string{"ROLE_ADMIN", "ROLE_USER"}, decodeUser(t, adminRec).User.Roles)

	tests := []struct {
		name   string
		path   string
		cookie *http.Cookie
		status int
	}{
		{"list anonymous", "/api/users", nil, http.StatusUnauthorized},
		{"list as user", "/api/users", userCookie, http.StatusForbidden},
		{"list as admin", "/api/users?limit=1", adminCookie, http.StatusOK},
		{"by id anonymous", "/api/users/1", nil, http.StatusUnauthorized},
		{"by id", "/api/users/1", userCookie, http.StatusOK},
		{"by id missing", "/api/users/999", userCookie, http.StatusNotFound},
		{"by id invalid", "/api/users/abc", userCookie, http.StatusBadRequest},
		{"by email", "/api/users/email/a@b.com", userCookie, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.cookie != nil {
				cookies = append(cookies, tt.cookie)
			}
			rec := send(t, h, http.MethodGet, tt.path, "", cookies...)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := send(t, h, http.MethodGet, "/api/users?limit=1", "", adminCookie)
	var page struct {
		Users []struct {
			ID int64 `json:"id"`
		} `json:"users"`
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Users, 1)
	assert.Equal(t, userID, page.Users[0].ID)
}

func TestRegister_Validation(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := send(t, h, http.MethodPost, "/api/auth/register", `{"email":"not-an-email","password":"123"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Validation failed", body.Message)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "password")
}

func TestLogin_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 2
	h := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret1"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLogin_SuccessResetsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 2
	h := newTestServer(t, cfg)
	register(t, h, "a@b.com", "secret1")

	send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"wrong1"}`)
	ok := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, ok.Code)

	for i := 0; i < 2; i++ {
		rec := send(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"wrong1"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func loginFrom(t *testing.T, h http.Handler, remoteAddr, forwardedFor, email, password string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"`+email+`","password":"`+password+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLogin_OwnSuccessDoesNotResetOtherAccount(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 2
	h := newTestServer(t, cfg)
	register(t, h, "victim@b.com", "secret1")
	register(t, h, "mallory@b.com", "secret2")

	limited := 0
	for i := 0; i < 20; i++ {
		if loginFrom(t, h, "192.0.2.10:5000", "", "victim@b.com", "guess"+strconv.Itoa(i)) == http.StatusTooManyRequests {
			limited++
		}
		require.Equal(t, http.StatusOK, loginFrom(t, h, "192.0.2.10:5000", "", "mallory@b.com", "secret2"))
	}

	assert.Equal(t, 18, limited)
}

func TestLogin_SpoofedForwardedForShareBucket(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 2
	h := newTestServer(t, cfg)

	limited := 0
	for i := 0; i < 20; i++ {
		code := loginFrom(t, h, "192.0.2.10:5000", "10.0.0."+strconv.Itoa(i), "victim@b.com", "guess")
		if code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 18, limited)
}

func TestLogin_TrustedProxyForwardsClient(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 1
	cfg.TrustedProxies = []string{"192.0.2.0/24"}
	h := newTestServer(t, cfg)

	// Distinct clients behind the proxy keep separate budgets.
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, h, "192.0.2.1:5000", "198.51.100.1", "a@b.com", "guess1"))
	assert.Equal(t, http.StatusUnauthorized, loginFrom(t, h, "192.0.2.1:5000", "198.51.100.2", "a@b.com", "guess1"))
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(t, h, "192.0.2.1:5000", "198.51.100.1", "a@b.com", "guess2"))
}

func TestLogin_PerIPCapSpansAccounts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLoginAttempts = 2
	cfg.LoginIPAttempts = 3
	h := newTestServer(t, cfg)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, loginFrom(t, h, "192.0.2.10:5000", "", "user"+strconv.Itoa(i)+"@b.com", "guess"))
	}
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(t, h, "192.0.2.10:5000", "", "fresh@b.com", "guess"))
}

// =============================================================================
// Ambient routes
// =============================================================================

func TestHealth(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := send(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = send(t, h, http.MethodGet, "/api/auth/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Auth service is running"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := send(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestGlobalHeaders(t *testing.T) {
	h := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestPreflight(t *testing.T) {
	h := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}
