// Package auth validates the connection tokens presented when a glasses or
// app channel is established. Token issuance (the JWT exchange) happens in a
// separate service; the core only verifies and extracts identity.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken covers malformed, expired or claim-less tokens.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrBadSignature covers tokens whose signature does not verify.
	ErrBadSignature = errors.New("auth: signature verification failed")
)

// TokenValidator authenticates connection tokens.
type TokenValidator interface {
	// ValidateGlassesToken returns the user id carried by a glasses token.
	ValidateGlassesToken(token string) (userID string, err error)

	// ValidateAppToken returns the user id and package name carried by an
	// app token.
	ValidateAppToken(token string) (userID, packageName string, err error)
}

// sessionClaims are the claims this platform issues.
type sessionClaims struct {
	jwt.RegisteredClaims
	PackageName string `json:"packageName,omitempty"`
}

// JWTValidator verifies HMAC-signed session tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for the given shared secret.
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty JWT secret")
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

func (v *JWTValidator) parse(tokenString string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject (sub) in claims", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateGlassesToken returns the user id carried by a glasses token.
func (v *JWTValidator) ValidateGlassesToken(tokenString string) (string, error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ValidateAppToken returns the user id and package name carried by an app
// token.
func (v *JWTValidator) ValidateAppToken(tokenString string) (string, string, error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		return "", "", err
	}
	if claims.PackageName == "" {
		return "", "", fmt.Errorf("%w: no packageName in claims", ErrInvalidToken)
	}
	return claims.Subject, claims.PackageName, nil
}
