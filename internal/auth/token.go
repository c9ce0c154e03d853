package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
)

// TokenType is reported alongside every issued token.
const TokenType = "bearer"

// TokenIssuer signs and verifies HS256 access tokens carrying a user ID.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. now defaults to time.Now.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: now}, nil
}

// Issue returns a signed token for userID that expires after the configured TTL.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the token's user ID.
// Every failure is reported as model.ErrInvalidToken.
func (t *TokenIssuer) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", model.ErrInvalidToken)
	}
	return claims.Subject, nil
}
