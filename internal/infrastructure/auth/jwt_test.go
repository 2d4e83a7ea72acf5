package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/config"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTokenService(t *testing.T, clock shared.Clock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(config.AdminConfig{
		JWTSecret: "test-secret-key-at-least-32-chars",
		Issuer:    "crosslist",
	}, clock)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService(config.AdminConfig{}, nil)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	clock := shared.NewManualClock(testEpoch)
	svc := newTestTokenService(t, clock)

	token, expiresAt, err := svc.Issue("ops@example.com", []string{ScopeRead, ScopeResolve}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(time.Hour), expiresAt)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Operator())
	assert.Equal(t, "crosslist", claims.Issuer)
	assert.True(t, claims.HasScope(ScopeResolve))
	assert.False(t, claims.HasScope("admin"))
	assert.NotEmpty(t, claims.ID)
}

func TestTokenService_DefaultTTL(t *testing.T) {
	svc := newTestTokenService(t, shared.NewManualClock(testEpoch))

	_, expiresAt, err := svc.Issue("ops", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(DefaultTokenTTL), expiresAt)

	_, _, err = svc.Issue("", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestTokenService_Validate_Rejections(t *testing.T) {
	clock := shared.NewManualClock(testEpoch)
	svc := newTestTokenService(t, clock)
	token, _, err := svc.Issue("ops", []string{ScopeRead}, time.Hour)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		clock.Set(testEpoch.Add(2 * time.Hour))
		defer clock.Set(testEpoch)

		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		clock.Set(testEpoch.Add(-time.Hour))
		defer clock.Set(testEpoch)

		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenService(config.AdminConfig{JWTSecret: "another-secret", Issuer: "crosslist"}, clock)
		require.NoError(t, err)

		_, err = other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewTokenService(config.AdminConfig{JWTSecret: "test-secret-key-at-least-32-chars", Issuer: "someone-else"}, clock)
		require.NoError(t, err)

		_, err = other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned token", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "crosslist"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.Validate(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
