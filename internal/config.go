package internal

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/DukeRupert/quizauth/internal/session"
	"github.com/DukeRupert/quizauth/internal/token"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Database drivers accepted by DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MaxPasswordBytes is the bcrypt input limit.
const MaxPasswordBytes = 72

type Config struct {
	Env      string `env:"ENV" envDefault:"development"`
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	// Storage. "memory" keeps users in process and is meant for local runs.
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseUrl string `env:"DATABASE_URL"`

	// Token signing
	JWTSecret       string        `env:"JWT_SECRET,required"`
	JWTExpirationMS int64         `env:"JWT_EXPIRATION_MS" envDefault:"86400000"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"quiz-auth-service"`
	JWTAudience     string        `env:"JWT_AUDIENCE" envDefault:"quiz-application"`
	JWTClockSkew    time.Duration `env:"JWT_CLOCK_SKEW" envDefault:"0s"`

	// Session cookie. Max-Age follows the token lifetime.
	CookieName     string `env:"COOKIE_NAME" envDefault:"token"`
	CookieSameSite string `env:"COOKIE_SAME_SITE" envDefault:"strict"`

	// Credential policy
	MinPasswordLength int           `env:"MIN_PASSWORD_LENGTH" envDefault:"6"`
	MaxLoginAttempts  int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginIPAttempts   int           `env:"MAX_LOGIN_ATTEMPTS_PER_IP" envDefault:"50"`
	LockoutDuration   time.Duration `env:"LOCKOUT_DURATION" envDefault:"30m"`
	RegisterAttempts  int           `env:"REGISTER_ATTEMPTS" envDefault:"10"`
	RegisterWindow    time.Duration `env:"REGISTER_WINDOW" envDefault:"1h"`

	// Shared rate limit store. Empty keeps counts in process.
	RedisURL string `env:"REDIS_URL"`

	// Peers whose X-Forwarded-For and X-Real-IP headers are believed.
	// Entries are IPs or CIDR ranges. Empty means the socket address is
	// always the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Accounts registered with these emails also receive ROLE_ADMIN.
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`

	// CORS
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"*"`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	CORSMaxAge           int      `env:"CORS_MAX_AGE" envDefault:"3600"`

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string `env:"METRICS_USERNAME"`
	MetricsPassword string `env:"METRICS_PASSWORD"`
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) sanitize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.CORSAllowedOrigins = trimAll(c.CORSAllowedOrigins)
	c.CORSAllowedMethods = trimAll(c.CORSAllowedMethods)
	c.CORSAllowedHeaders = trimAll(c.CORSAllowedHeaders)
	c.TrustedProxies = trimAll(c.TrustedProxies)

	admins := trimAll(c.AdminEmails)
	for i, email := range admins {
		admins[i] = strings.ToLower(email)
	}
	c.AdminEmails = admins
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is '%s'", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be either '%s' or '%s', got: %s", DriverPostgres, DriverMemory, c.DBDriver)
	}

	if len(c.JWTSecret) < token.MinKeyBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", token.MinKeyBytes)
	}
	if c.JWTExpirationMS <= 0 {
		return fmt.Errorf("JWT_EXPIRATION_MS must be positive, got: %d", c.JWTExpirationMS)
	}
	if c.JWTClockSkew < 0 {
		return fmt.Errorf("JWT_CLOCK_SKEW must not be negative, got: %s", c.JWTClockSkew)
	}

	if c.CookieName == "" {
		return errors.New("COOKIE_NAME must not be empty")
	}
	if _, err := session.ParseSameSite(c.CookieSameSite); err != nil {
		return fmt.Errorf("COOKIE_SAME_SITE: %w", err)
	}

	if c.MinPasswordLength < 1 || c.MinPasswordLength > MaxPasswordBytes {
		return fmt.Errorf("MIN_PASSWORD_LENGTH must be between 1 and %d, got: %d", MaxPasswordBytes, c.MinPasswordLength)
	}
	if c.MaxLoginAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1, got: %d", c.MaxLoginAttempts)
	}
	if c.LoginIPAttempts < c.MaxLoginAttempts {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS_PER_IP must be at least MAX_LOGIN_ATTEMPTS (%d), got: %d", c.MaxLoginAttempts, c.LoginIPAttempts)
	}
	if c.RegisterAttempts < 1 {
		return fmt.Errorf("REGISTER_ATTEMPTS must be at least 1, got: %d", c.RegisterAttempts)
	}

	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return errors.New("REDIS_URL must start with redis:// or rediss://")
	}
	for _, proxy := range c.TrustedProxies {
		if _, err := parseProxy(proxy); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy)
		}
	}

	if c.CORSAllowCredentials {
		for _, origin := range c.CORSAllowedOrigins {
			if origin == "*" {
				return errors.New("CORS_ALLOWED_ORIGINS cannot contain '*' when CORS_ALLOW_CREDENTIALS is true")
			}
		}
	}

	return nil
}

// IsDevelopment reports whether the service runs in a development mode.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development":
		return true
	}
	return false
}

// TokenTTL is the token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpirationMS) * time.Millisecond
}

// CookieMaxAge is the token lifetime rounded up to whole seconds, so the
// cookie never expires before the token it carries.
func (c *Config) CookieMaxAge() int {
	ttl := c.TokenTTL()
	secs := ttl / time.Second
	if ttl%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// SessionConfig derives the cookie attributes. Secure is dropped only in
// development so the cookie works over plain http://localhost.
func (c *Config) SessionConfig() session.Config {
	sameSite, err := session.ParseSameSite(c.CookieSameSite)
	if err != nil {
		sameSite = http.SameSiteStrictMode
	}
	return session.Config{
		Name:     c.CookieName,
		MaxAge:   c.CookieMaxAge(),
		Secure:   !c.IsDevelopment(),
		SameSite: sameSite,
	}
}

// TokenConfig derives the codec settings.
func (c *Config) TokenConfig() token.Config {
	return token.Config{
		Key:      []byte(c.JWTSecret),
		TTL:      c.TokenTTL(),
		Issuer:   c.JWTIssuer,
		Audience: c.JWTAudience,
		Skew:     c.JWTClockSkew,
	}
}

// TrustedProxyPrefixes returns TRUSTED_PROXIES as prefixes. A bare address
// becomes a single-host prefix. Invalid entries are skipped; Validate
// rejects them.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, proxy := range c.TrustedProxies {
		if p, err := parseProxy(proxy); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

func parseProxy(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
