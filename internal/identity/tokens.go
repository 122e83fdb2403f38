// Package identity resolves session credentials and roster lookups for admission.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	expiry time.Duration
	issuer string
	clock  interfaces.Clock
}

// NewTokens builds a token helper. An expiry of zero issues tokens that never expire.
func NewTokens(secret string, expiry time.Duration, issuer string, clk interfaces.Clock) *Tokens {
	return &Tokens{secret: []byte(secret), expiry: expiry, issuer: issuer, clock: clk}
}

type claims struct {
	jwt.RegisteredClaims
}

// Issue signs a session token for userID.
func (t *Tokens) Issue(userID string) (string, error) {
	if t == nil || len(t.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}

	now := t.clock.Now()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  userID,
		Issuer:   t.issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if t.expiry > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(t.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

// Parse verifies token and returns the session it carries plus its issue time.
func (t *Tokens) Parse(token string) (*types.Session, time.Time, error) {
	if t == nil || len(t.secret) == 0 {
		return nil, time.Time{}, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return nil, time.Time{}, ErrInvalidToken
	}

	session := &types.Session{UserID: c.Subject}
	if c.ExpiresAt != nil {
		session.ExpiresAt = c.ExpiresAt.Time
	}
	var issuedAt time.Time
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time
	}
	return session, issuedAt, nil
}
