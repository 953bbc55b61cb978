// Package auth verifies client-supplied JWT tokens and resolves them to a
// caller identity. Verification failures are never fatal for the connection:
// a missing, malformed, or expired token simply degrades the connection to
// anonymous.
package auth

import (
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Identity is a verified caller. UserID refers to the persistent user record
// in the external store; it never leaves the server.
type Identity struct {
	UserID string
	Email  string
}

// Verifier validates HS256-signed tokens issued by the account service.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the given shared HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates token and returns the identity it carries.
// The token must be HS256-signed with the shared secret and carry an "id"
// claim. Expired or otherwise invalid tokens return an error; callers treat
// any error as "anonymous", not as a rejection.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("auth: empty token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("auth: invalid claims")
	}

	id, _ := claims["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("auth: token has no id claim")
	}
	email, _ := claims["email"].(string)

	return &Identity{UserID: id, Email: email}, nil
}
