package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAnnotator is the only role issued today. Kept as a claim so
// reviewer accounts can be added without reissuing every token.
const RoleAnnotator = "annotator"

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	AnnotatorID string `json:"annotator_id"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates annotator tokens
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator creates an authenticator with the given signing
// secret and token lifetime
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// GenerateAnnotatorToken generates a JWT token for an annotator and
// returns it together with its expiry time
func (a *Authenticator) GenerateAnnotatorToken(annotatorID, name string) (string, time.Time, error) {
	expiresAt := time.Now().Add(a.ttl)
	claims := &JWTClaims{
		AnnotatorID: annotatorID,
		Name:        name,
		Role:        RoleAnnotator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrTokenInvalidClaims
}
