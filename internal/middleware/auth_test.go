package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/quizauth/internal/auth"
	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/DukeRupert/quizauth/internal/session"
	"github.com/DukeRupert/quizauth/internal/token"
)

// =============================================================================
// Test Helpers
// =============================================================================

var testKey = []byte("0123456789abcdef0123456789abcdef")

type authFixture struct {
	codec     *token.Codec
	transport *session.Transport
	mw        *AuthMiddleware
	now       time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	codec, err := token.New(token.Config{
		Key:      testKey,
		TTL:      time.Hour,
		Issuer:   "quiz-auth-service",
		Audience: "quiz-application",
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	transport := session.New(session.Config{Name: "token", Secure: true})

	return &authFixture{
		codec:     codec,
		transport: transport,
		mw:        NewAuthMiddleware(codec, transport, discardLogger()),
		now:       now,
	}
}

func (f *authFixture) issue(t *testing.T, roles ...domain.Role) string {
	t.Helper()
	tok, err := f.codec.Issue(token.Claims{
		Subject: "a@b.com",
		UserID:  7,
		Roles:   domain.NewRoleSet(roles...),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

// captureClaims records the claims seen by the final handler.
func captureClaims(got **token.Claims, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		*got = auth.ClaimsFromRequest(r)
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// Authenticate Tests
// =============================================================================

func TestAuthenticate_NoToken(t *testing.T) {
	f := newAuthFixture(t)

	var claims *token.Claims
	var called bool
	h := f.mw.Authenticate(captureClaims(&claims, &called))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to be called")
	}
	if claims != nil {
		t.Error("expected no claims for anonymous request")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthenticate_ValidCookie(t *testing.T) {
	f := newAuthFixture(t)

	var claims *token.Claims
	var called bool
	h := f.mw.Authenticate(captureClaims(&claims, &called))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: f.issue(t, domain.RoleUser)})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if claims == nil {
		t.Fatal("expected claims in context")
	}
	if claims.UserID != 7 || claims.Subject != "a@b.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if !claims.HasRole(domain.RoleUser) {
		t.Error("expected ROLE_USER")
	}
}

func TestAuthenticate_BearerFallback(t *testing.T) {
	f := newAuthFixture(t)

	var claims *token.Claims
	var called bool
	h := f.mw.Authenticate(captureClaims(&claims, &called))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+f.issue(t, domain.RoleUser))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if claims == nil || claims.UserID != 7 {
		t.Errorf("expected claims from bearer token, got %+v", claims)
	}
}

func TestAuthenticate_InvalidTokensContinueAnonymous(t *testing.T) {
	f := newAuthFixture(t)
	valid := f.issue(t, domain.RoleUser)

	otherCodec, err := token.New(token.Config{
		Key: []byte("ffffffffffffffffffffffffffffffff"),
		TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	forged, err := otherCodec.Issue(token.Claims{Subject: "a@b.com", UserID: 7})
	if err != nil {
		t.Fatalf("issue forged: %v", err)
	}

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"tampered signature", tampered},
		{"wrong key", forged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var claims *token.Claims
			var called bool
			h := f.mw.Authenticate(captureClaims(&claims, &called))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			req.AddCookie(&http.Cookie{Name: "token", Value: tt.token})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if !called {
				t.Error("expected next handler to be called")
			}
			if claims != nil {
				t.Error("expected no claims for invalid token")
			}
			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}
		})
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	tok := f.issue(t, domain.RoleUser)

	later, err := token.New(token.Config{
		Key:      testKey,
		TTL:      time.Hour,
		Issuer:   "quiz-auth-service",
		Audience: "quiz-application",
		Now:      func() time.Time { return f.now.Add(2 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	mw := NewAuthMiddleware(later, f.transport, discardLogger())

	var claims *token.Claims
	var called bool
	h := mw.Authenticate(captureClaims(&claims, &called))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: tok})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("expected next handler to be called")
	}
	if claims != nil {
		t.Error("expected expired token to be ignored")
	}
}

func TestAuthenticate_KeepsExistingClaims(t *testing.T) {
	f := newAuthFixture(t)
	existing := &token.Claims{Subject: "x@y.com", UserID: 99}

	var claims *token.Claims
	var called bool
	h := f.mw.Authenticate(captureClaims(&claims, &called))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: f.issue(t, domain.RoleUser)})
	req = req.WithContext(auth.SetClaims(req.Context(), existing))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if claims != existing {
		t.Errorf("expected existing claims to be kept, got %+v", claims)
	}
}

// =============================================================================
// RequireAuth / RequireRole Tests
// =============================================================================

func TestRequireAuth(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name       string
		withToken  bool
		wantStatus int
	}{
		{"anonymous", false, http.StatusUnauthorized},
		{"authenticated", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var claims *token.Claims
			var called bool
			h := Stack(f.mw.Authenticate, f.mw.RequireAuth)(captureClaims(&claims, &called))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.withToken {
				req.AddCookie(&http.Cookie{Name: "token", Value: f.issue(t, domain.RoleUser)})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if called != tt.withToken {
				t.Errorf("handler called = %v, want %v", called, tt.withToken)
			}
			if !tt.withToken && !strings.Contains(rec.Body.String(), `"message"`) {
				t.Errorf("expected JSON error body, got %q", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name       string
		roles      []domain.Role
		anonymous  bool
		wantStatus int
	}{
		{"anonymous", nil, true, http.StatusUnauthorized},
		{"missing role", []domain.Role{domain.RoleUser}, false, http.StatusForbidden},
		{"has role", []domain.Role{domain.RoleUser, domain.RoleAdmin}, false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var claims *token.Claims
			var called bool
			h := Stack(f.mw.Authenticate, f.mw.RequireRole(domain.RoleAdmin))(captureClaims(&claims, &called))

			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			if !tt.anonymous {
				req.AddCookie(&http.Cookie{Name: "token", Value: f.issue(t, tt.roles...)})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
		})
	}
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("first"), mark("second"), mark("third"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := "first,second,third,handler"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected order %q, got %q", want, got)
	}
}
