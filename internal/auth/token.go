// Package auth verifies the bearer tokens operators present to the
// gateway. Tokens are HS256-signed JWTs carrying the operator account ID
// in the "sub" claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed tokens and signature mismatches.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for tokens past their exp claim.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingClaim is returned when a required claim is absent.
	ErrMissingClaim = errors.New("missing required claim")
)

// Verifier extracts the operator account ID from a presented credential.
type Verifier interface {
	Verify(token string) (operatorID string, err error)
}

// JWT implements Verifier on HS256-signed JWTs.
type JWT struct {
	secret []byte
}

// NewJWT creates a verifier bound to the given shared secret.
func NewJWT(secret []byte) *JWT {
	return &JWT{secret: secret}
}

// Verify validates the token signature and expiry, returning the "sub"
// claim as the operator account ID.
func (v *JWT) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate mints a token for the given operator account. Used by tests and
// the token-issue admin command.
func (v *JWT) Generate(operatorID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": operatorID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Static implements Verifier with a fixed token-to-operator table. It
// serves single-operator deployments where minting JWTs is overkill.
type Static map[string]string

// Verify implements Verifier.
func (s Static) Verify(token string) (string, error) {
	id, ok := s[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return id, nil
}
