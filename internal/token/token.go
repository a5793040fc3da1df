// Package token issues and verifies the signed identity tokens carried in
// the session cookie.
//
// Tokens are compact JWTs signed with HMAC-SHA256. The algorithm is fixed by
// the verifier: whatever the token header claims, only HS256 signatures made
// with the configured key are accepted. Tokens are stateless and never stored.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the smallest accepted signing key (256 bits).
const MinKeyBytes = 32

// Verification failures. Callers match these with errors.Is; the wrapped
// detail is for logs only.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Configuration errors returned by New.
var (
	ErrKeyTooShort = fmt.Errorf("signing key must be at least %d bytes", MinKeyBytes)
	ErrInvalidTTL  = errors.New("token TTL must be positive")
)

var signingMethod = jwt.SigningMethodHS256

// Config holds the codec settings. It is copied into the Codec on
// construction and never mutated afterwards.
type Config struct {
	Key      []byte
	TTL      time.Duration
	Issuer   string
	Audience string

	// Skew is tolerated past the expiry instant. Zero means strict.
	Skew time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Codec issues and verifies tokens. Safe for concurrent use.
type Codec struct {
	key      []byte
	ttl      time.Duration
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// New creates a Codec from cfg.
func New(cfg Config) (*Codec, error) {
	if len(cfg.Key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	if cfg.TTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if cfg.Skew < 0 {
		return nil, errors.New("token clock skew must not be negative")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	key := make([]byte, len(cfg.Key))
	copy(key, cfg.Key)

	return &Codec{
		key:      key,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.Skew,
		now:      now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs claims with the configured TTL.
//
// IssuedAt, ExpiresAt, Issuer and Audience are set by the codec; any values
// in claims are ignored.
func (c *Codec) Issue(claims Claims) (string, error) {
	return c.IssueTTL(claims, c.ttl)
}

// IssueTTL signs claims with an explicit lifetime.
func (c *Codec) IssueTTL(claims Claims, ttl time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidClaims)
	}
	if claims.UserID <= 0 {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidClaims)
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	issuedAt := time.UnixMilli(c.now().UnixMilli()).UTC()
	claims.IssuedAt = issuedAt
	claims.ExpiresAt = issuedAt.Add(ttl)
	claims.Issuer = c.issuer
	claims.Audience = c.audience

	signed, err := jwt.NewWithClaims(signingMethod, newWireClaims(claims)).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns its
// claims.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	var wc wireClaims
	if _, err := c.parser.ParseWithClaims(tokenString, &wc, c.keyFunc); err != nil {
		return nil, classify(err)
	}

	claims, err := wc.claims()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: issuer %q", ErrInvalidClaims, claims.Issuer)
	}
	if c.audience != "" && !containsString(wc.Audience, c.audience) {
		return nil, fmt.Errorf("%w: audience %v", ErrInvalidClaims, []string(wc.Audience))
	}

	if c.now().After(claims.ExpiresAt.Add(c.skew)) {
		return nil, ErrExpired
	}

	return claims, nil
}

// keyFunc supplies the verification key. The method allow-list on the
// parser already pins HS256; this is a second check on the method family.
func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.key, nil
}

// classify maps jwt parser errors onto the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// Reason returns a short label for a Verify error, for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidClaims):
		return "invalid_claims"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	default:
		return "error"
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
