package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCookie is returned when a session cookie fails verification.
var ErrInvalidCookie = errors.New("session: invalid cookie")

// CookieCodec signs session ids into cookie values as HS256 JWTs, so a
// client cannot forge or enumerate session ids.
type CookieCodec struct {
	secret []byte
	issuer string
}

// NewCookieCodec creates a codec keyed by secret.
func NewCookieCodec(secret string) (*CookieCodec, error) {
	if secret == "" {
		return nil, errors.New("session: cookie secret is required")
	}
	return &CookieCodec{secret: []byte(secret), issuer: "syncpage"}, nil
}

// Encode returns the signed cookie value for sessionID.
func (c *CookieCodec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies value and returns the session id it carries.
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing session id", ErrInvalidCookie)
	}
	return claims.ID, nil
}
