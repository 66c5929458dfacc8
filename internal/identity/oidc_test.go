package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verifier := NewStaticOIDCVerifier("https://issuer.example.com", "rekbox-client", key.Public())
	ctx := context.Background()

	sign := func(audience string, expiresAt time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":              "https://issuer.example.com",
			"aud":              audience,
			"sub":              "us-east-1:1234",
			"exp":              expiresAt.Unix(),
			"iat":              time.Now().Unix(),
			"email":            "alice@example.com",
			"cognito:username": "alice",
		})
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	claims, err := verifier.Verify(ctx, sign("rekbox-client", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "us-east-1:1234", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)

	_, err = verifier.Verify(ctx, sign("another-client", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Verify(ctx, sign("rekbox-client", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
