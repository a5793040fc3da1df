package token

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity carried inside a token.
type Claims struct {
	Subject   string
	UserID    int64
	Roles     domain.RoleSet
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  string
}

// HasRole reports whether the claims grant r.
func (c *Claims) HasRole(r domain.Role) bool {
	return c.Roles.Has(r)
}

// wireClaims is the JSON payload segment. Pointer fields distinguish a
// missing claim from a zero value.
type wireClaims struct {
	Subject   *string          `json:"sub"`
	UserID    *int64           `json:"user_id"`
	Roles     []string         `json:"roles"`
	IssuedAt  *numericDate     `json:"iat,omitempty"`
	ExpiresAt *numericDate     `json:"exp"`
	Issuer    string           `json:"iss,omitempty"`
	Audience  jwt.ClaimStrings `json:"aud,omitempty"`
}

func newWireClaims(c Claims) *wireClaims {
	sub := c.Subject
	uid := c.UserID
	w := &wireClaims{
		Subject:   &sub,
		UserID:    &uid,
		Roles:     c.Roles.Strings(),
		IssuedAt:  &numericDate{c.IssuedAt},
		ExpiresAt: &numericDate{c.ExpiresAt},
		Issuer:    c.Issuer,
	}
	if c.Audience != "" {
		w.Audience = jwt.ClaimStrings{c.Audience}
	}
	return w
}

// claims converts the decoded payload, enforcing required fields.
func (w *wireClaims) claims() (*Claims, error) {
	if w.Subject == nil || *w.Subject == "" {
		return nil, errors.New("missing sub")
	}
	if w.UserID == nil {
		return nil, errors.New("missing user_id")
	}
	if w.ExpiresAt == nil {
		return nil, errors.New("missing exp")
	}
	roles, err := domain.ParseRoleSet(w.Roles)
	if err != nil {
		return nil, err
	}

	c := &Claims{
		Subject:   *w.Subject,
		UserID:    *w.UserID,
		Roles:     roles,
		ExpiresAt: w.ExpiresAt.Time,
		Issuer:    w.Issuer,
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.Time
	}
	if len(w.Audience) > 0 {
		c.Audience = w.Audience[0]
	}
	return c, nil
}

// jwt.Claims implementation. Time validation is done by Codec.Verify, so
// these only satisfy the interface.

func (w *wireClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if w.ExpiresAt == nil {
		return nil, nil
	}
	return jwt.NewNumericDate(w.ExpiresAt.Time), nil
}

func (w *wireClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	if w.IssuedAt == nil {
		return nil, nil
	}
	return jwt.NewNumericDate(w.IssuedAt.Time), nil
}

func (w *wireClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (w *wireClaims) GetIssuer() (string, error) {
	return w.Issuer, nil
}

func (w *wireClaims) GetSubject() (string, error) {
	if w.Subject == nil {
		return "", nil
	}
	return *w.Subject, nil
}

func (w *wireClaims) GetAudience() (jwt.ClaimStrings, error) {
	return w.Audience, nil
}

// numericDate is a JWT NumericDate with millisecond precision. It is
// written as seconds with up to three fractional digits and parsed from the
// decimal text directly so no precision is lost to float conversion.
type numericDate struct {
	time.Time
}

func (d numericDate) MarshalJSON() ([]byte, error) {
	ms := d.UnixMilli()
	sign := ""
	if ms < 0 {
		sign, ms = "-", -ms
	}
	sec, frac := ms/1000, ms%1000
	if frac == 0 {
		return []byte(sign + strconv.FormatInt(sec, 10)), nil
	}
	return []byte(fmt.Sprintf("%s%d.%03d", sign, sec, frac)), nil
}

func (d *numericDate) UnmarshalJSON(b []byte) error {
	intPart, fracPart, hasFrac := bytes.Cut(b, []byte("."))
	sec, err := strconv.ParseInt(string(intPart), 10, 64)
	if err != nil {
		return fmt.Errorf("numeric date: %w", err)
	}

	var ms int64
	if hasFrac {
		if len(fracPart) == 0 {
			return errors.New("numeric date: empty fraction")
		}
		for i, ch := range fracPart {
			if ch < '0' || ch > '9' {
				return fmt.Errorf("numeric date: invalid fraction %q", fracPart)
			}
			if i < 3 {
				ms = ms*10 + int64(ch-'0')
			}
		}
		for i := len(fracPart); i < 3; i++ {
			ms *= 10
		}
		if bytes.HasPrefix(intPart, []byte("-")) {
			ms = -ms
		}
	}

	d.Time = time.UnixMilli(sec*1000 + ms).UTC()
	return nil
}
