package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyAuthorizer(t *testing.T) {
	a := NewAPIKeyAuthorizer("sk_live_abc123")
	ctx := context.Background()

	p, err := a.Authorize(ctx, "sk_live_abc123")
	require.NoError(t, err)
	assert.Equal(t, "api_key", p.Method)

	p, err = a.Authorize(ctx, "Bearer sk_live_abc123")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = a.Authorize(ctx, "sk_live_wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authorize(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authorize(ctx, "sk_live_abc123extra")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func signToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(expiry).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthorizer(t *testing.T) {
	a := NewJWTAuthorizer("test-secret")
	ctx := context.Background()

	good := signToken(t, "test-secret", "agent-1", time.Hour)
	p, err := a.Authorize(ctx, "Bearer "+good)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.Subject)
	assert.Equal(t, "jwt", p.Method)

	wrongKey := signToken(t, "other-secret", "agent-1", time.Hour)
	_, err = a.Authorize(ctx, "Bearer "+wrongKey)
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired := signToken(t, "test-secret", "agent-1", -time.Hour)
	_, err = a.Authorize(ctx, "Bearer "+expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authorize(ctx, "Bearer not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
