package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/clock"
)

func TestIssueAndVerify(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	tokens, err := NewTokens("secret", time.Hour, clk)
	require.NoError(t, err)

	tok, err := tokens.Issue("user-1")
	require.NoError(t, err)

	sub, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	clk.Advance(2 * time.Hour)
	_, err = tokens.Verify(tok)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour, nil)
	require.NoError(t, err)
	other, err := NewTokens("other", time.Hour, nil)
	require.NoError(t, err)

	tok, err := other.Issue("user-1")
	require.NoError(t, err)
	_, err = tokens.Verify(tok)
	assert.Error(t, err, "wrong secret")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(unsigned)
	assert.Error(t, err, "alg none")

	_, err = tokens.Verify("garbage")
	assert.Error(t, err)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := NewTokens("", time.Hour, nil)
	assert.ErrorIs(t, err, ErrMissingSecret)

	tokens, err := NewTokens("s", 0, nil)
	require.NoError(t, err)
	_, err = tokens.Issue(" ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidUser)
}
