package auth

import (
	"context"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator verifies HMAC-signed tokens. The subject claim becomes
// the principal's user id.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator builds an authenticator over an HMAC secret.
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

func (a *JWTAuthenticator) Verify(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (any, error) {
		// HMAC family only; reject alg confusion attempts.
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, ErrUnauthorized
	}

	p := &Principal{UserID: sub, Claims: claims}
	if name, ok := claims["name"].(string); ok {
		p.Name = name
	}
	return p, nil
}
