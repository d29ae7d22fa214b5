package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"gamechat/errors"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	req := require.New(t)
	verifier := NewJWTVerifier(testSecret)

	identity, err := verifier.Verify(signToken(t, testSecret, "alice", time.Hour))
	req.NoError(err)
	req.Equal("alice", identity)
}

func TestJWTVerifier_FailuresAreGeneric(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	cases := map[string]string{
		"empty token":     "",
		"garbage":         "not.a.token",
		"wrong secret":    signToken(t, "other-secret", "alice", time.Hour),
		"expired":         signToken(t, testSecret, "alice", -time.Hour),
		"missing subject": signToken(t, testSecret, "", time.Hour),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			// Every failure collapses to the same Unauthorized
			_, err := verifier.Verify(token)
			require.ErrorIs(t, err, errors.ErrUnauthorized)
		})
	}
}
