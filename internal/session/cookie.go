// Package session carries the session token between client and server.
//
// The token travels in an httpOnly cookie. Non-browser clients may instead
// send it as an Authorization bearer credential, which is only consulted
// when no session cookie is present.
package session

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	// DefaultCookieName is the cookie that stores the session token.
	DefaultCookieName = "token"

	// DefaultCookiePath ensures the cookie is sent with all requests.
	DefaultCookiePath = "/"

	// DefaultCookieMaxAge is 24 hours in seconds, the default token lifetime.
	DefaultCookieMaxAge = 24 * 60 * 60

	bearerScheme = "Bearer"
)

// Config holds cookie attributes. Copied into the Transport on construction.
type Config struct {
	Name     string
	Path     string
	MaxAge   int // seconds
	Secure   bool
	SameSite http.SameSite
}

// Transport writes and reads the session cookie. Safe for concurrent use.
type Transport struct {
	cfg Config
}

// New creates a Transport, filling unset fields with defaults.
// SameSite defaults to Strict.
func New(cfg Config) *Transport {
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = DefaultCookiePath
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultCookieMaxAge
	}
	if cfg.SameSite == 0 || cfg.SameSite == http.SameSiteDefaultMode {
		cfg.SameSite = http.SameSiteStrictMode
	}
	return &Transport{cfg: cfg}
}

// Name returns the cookie name.
func (t *Transport) Name() string {
	return t.cfg.Name
}

// MaxAge returns the cookie lifetime in seconds.
func (t *Transport) MaxAge() int {
	return t.cfg.MaxAge
}

// Attach sets the session cookie carrying token on the response.
func (t *Transport) Attach(w http.ResponseWriter, token string) {
	http.SetCookie(w, t.cookie(token, t.cfg.MaxAge))
}

// Clear expires the session cookie on the client. The attributes match
// Attach exactly; clients ignore a deletion whose Path or SameSite differ
// from the original cookie.
func (t *Transport) Clear(w http.ResponseWriter) {
	// net/http renders a negative MaxAge as "Max-Age=0".
	http.SetCookie(w, t.cookie("", -1))
}

func (t *Transport) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     t.cfg.Name,
		Value:    value,
		Path:     t.cfg.Path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: t.cfg.SameSite,
	}
}

// Extract returns the session token from r.
//
// Only the first cookie with the configured name is considered. If it is
// missing or its value is empty, the Authorization bearer header is used
// instead: an empty cookie does not shadow the header. A missing token is
// reported with ok=false, not an error.
func (t *Transport) Extract(r *http.Request) (token string, ok bool) {
	for _, c := range r.Cookies() {
		if c.Name == t.cfg.Name {
			if c.Value != "" {
				return c.Value, true
			}
			break
		}
	}
	return bearerToken(r)
}

// bearerToken reads "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// ParseSameSite converts a config string (strict, lax, none) to http.SameSite.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid SameSite value %q (valid options: strict, lax, none)", s)
	}
}
