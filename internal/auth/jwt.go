// Package auth provides JWT validation using a remote JWKS endpoint.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorAudience marks tokens allowed to act on any user's behalf
// (support tooling, compliance review).
const OperatorAudience = "orb-operator"

// Claims are the JWT claims accepted on the orb API. The subject is the
// user id.
type Claims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier,omitempty"`
}

// Validator validates bearer tokens against a JWKS endpoint.
type Validator struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
}

// NewValidator creates a Validator that fetches and caches keys from the
// JWKS endpoint.
func NewValidator(jwksURL, issuer, audience string) (*Validator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create JWKS keyfunc: %w", err)
	}

	return &Validator{
		jwks:     k,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Validate parses and verifies a token, returning its claims.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if v.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != v.issuer {
			return nil, fmt.Errorf("invalid issuer")
		}
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("get audience: %w", err)
	}
	for _, a := range aud {
		if a == v.audience || a == OperatorAudience {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("invalid audience")
}

// IsOperator reports whether the claims carry the operator audience.
func IsOperator(claims *Claims) bool {
	if claims == nil {
		return false
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, a := range aud {
		if a == OperatorAudience {
			return true
		}
	}
	return false
}

// UserID extracts the user id from validated claims.
func UserID(claims *Claims) string {
	return claims.Subject
}
