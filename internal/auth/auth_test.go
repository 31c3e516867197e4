package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_Verify(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		wantErr error
		wantID  string
	}{
		{
			name:   "valid token",
			token:  signToken(t, "user_42", time.Now().Add(time.Hour)),
			wantID: "user_42",
		},
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrMissingToken,
		},
		{
			name:    "garbage token",
			token:   "not.a.jwt",
			wantErr: ErrInvalidToken,
		},
		{
			name:    "expired token",
			token:   signToken(t, "user_42", time.Now().Add(-time.Hour)),
			wantErr: ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := verifier.Verify(ctx, tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, identity.UserID)
		})
	}
}

func TestJWTVerifier_RejectsWrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("another-secret"))
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret).Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// unavailableChecker simulates a down revocation cache.
type unavailableChecker struct{}

func (unavailableChecker) IsRevoked(context.Context, string) (bool, error) {
	return false, ErrRevocationUnavailable
}

func TestAuthenticator_RevokedToken(t *testing.T) {
	cache, err := NewLRURevocationCache(16)
	require.NoError(t, err)

	authn := NewAuthenticator(NewJWTVerifier(testSecret), cache, slog.Default())
	token := signToken(t, "user_42", time.Now().Add(time.Hour))

	identity, err := authn.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_42", identity.UserID)

	cache.Revoke(token)
	_, err = authn.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAuthenticator_FailOpenWhenCacheUnavailable(t *testing.T) {
	authn := NewAuthenticator(NewJWTVerifier(testSecret), unavailableChecker{}, slog.Default())
	token := signToken(t, "user_42", time.Now().Add(time.Hour))

	identity, err := authn.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_42", identity.UserID)
}

func TestAuthenticator_InvalidTokenNeverReachesCache(t *testing.T) {
	authn := NewAuthenticator(NewJWTVerifier(testSecret), unavailableChecker{}, slog.Default())

	_, err := authn.Authenticate(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
