package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens verifies HS256 access tokens issued by the identity service.
type Tokens struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokens returns a Tokens for the given shared secret. Empty issuer or
// audience disables the corresponding claim check.
func NewTokens(secret, issuer, audience string) *Tokens {
	return &Tokens{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// Verify parses and validates token and returns the principal it names.
func (t *Tokens) Verify(token string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}

	var c claims
	if _, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...); err != nil {
		return Principal{}, errors.Wrap(err, "parse token")
	}
	if c.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	role := Role(c.Role)
	if !role.Valid() {
		return Principal{}, errors.Errorf("unknown role %q", c.Role)
	}
	return Principal{ID: c.Subject, Role: role}, nil
}

// Issue signs an access token for p valid for ttl. The identity service owns
// issuance in production; this is used by tooling and tests.
func (t *Tokens) Issue(p Principal, ttl time.Duration) (string, error) {
	now := t.now()
	c := claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if t.audience != "" {
		c.Audience = jwt.ClaimStrings{t.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
