package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when a handshake carries no credential
	ErrMissingToken = errors.New("missing credential token")

	// ErrInvalidToken is returned for malformed or badly signed tokens
	ErrInvalidToken = errors.New("invalid credential token")

	// ErrTokenExpired is returned when the token is past its expiry
	ErrTokenExpired = errors.New("credential token expired")

	// ErrTokenRevoked is returned when the token was invalidated before expiry
	ErrTokenRevoked = errors.New("credential token revoked")

	// ErrRevocationUnavailable signals the revocation cache could not answer
	ErrRevocationUnavailable = errors.New("revocation cache unavailable")
)

// Identity is the verified principal attached to a connection.
type Identity struct {
	UserID string
}

// Verifier validates a signed credential token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// RevocationChecker answers whether a token has been invalidated before its
// natural expiry. The error return is the explicit "unavailable" signal so
// callers choose their fallback consciously instead of catching panics.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// JWTVerifier verifies HMAC-signed tokens. Token issuance happens elsewhere;
// only signature and expiry are checked here.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{UserID: subject}, nil
}

// Authenticator combines verification with the revocation check that gates
// every handshake.
type Authenticator struct {
	verifier   Verifier
	revocation RevocationChecker
	logger     *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(verifier Verifier, revocation RevocationChecker, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		verifier:   verifier,
		revocation: revocation,
		logger:     logger,
	}
}

// Authenticate verifies the token, then consults the revocation cache.
// The revocation check is fail-open: if the cache is unavailable the
// connection proceeds as not-revoked. Availability is preferred over strict
// revocation enforcement here.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}

	revoked, err := a.revocation.IsRevoked(ctx, token)
	if err != nil {
		a.logger.Warn("Revocation cache unavailable, proceeding fail-open",
			slog.String("user_id", identity.UserID),
			slog.Any("error", err),
		)
		return identity, nil
	}
	if revoked {
		return Identity{}, ErrTokenRevoked
	}

	return identity, nil
}
