package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/clock"
)

var epoch = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

func TestTokens_IssueAndParse(t *testing.T) {
	clk := clock.NewFake(epoch)
	tokens := NewTokens("s3cret", time.Hour, "classhub", clk)

	token, err := tokens.Issue("s1")
	require.NoError(t, err)

	session, issuedAt, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", session.UserID)
	assert.Equal(t, epoch.Add(time.Hour), session.ExpiresAt.UTC())
	assert.Equal(t, epoch, issuedAt.UTC())
}

func TestTokens_Rejections(t *testing.T) {
	clk := clock.NewFake(epoch)
	tokens := NewTokens("s3cret", time.Hour, "classhub", clk)
	valid, err := tokens.Issue("s1")
	require.NoError(t, err)

	otherSecret, err := NewTokens("different", time.Hour, "classhub", clk).Issue("s1")
	require.NoError(t, err)
	otherIssuer, err := NewTokens("s3cret", time.Hour, "elsewhere", clk).Issue("s1")
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "s1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "classhub"}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong secret", otherSecret},
		{"wrong issuer", otherIssuer},
		{"alg none", unsigned},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tokens.Parse(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	clk.Advance(2 * time.Hour)
	_, _, err = tokens.Parse(valid)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestTokens_NoExpiry(t *testing.T) {
	clk := clock.NewFake(epoch)
	tokens := NewTokens("s3cret", 0, "", clk)

	token, err := tokens.Issue("t1")
	require.NoError(t, err)

	clk.Advance(24 * 365 * time.Hour)
	session, _, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.IsZero())
}

func TestTokens_Disabled(t *testing.T) {
	tokens := NewTokens("", time.Hour, "", clock.Real{})

	_, err := tokens.Issue("t1")
	assert.ErrorIs(t, err, ErrAuthDisabled)
	_, _, err = tokens.Parse("x")
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewTokens("k", time.Hour, "", clock.Real{}).Issue(" ")
	assert.Error(t, err)
}
