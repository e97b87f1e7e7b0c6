package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("authorization required")
)

// Auth validates pre-issued subscriber tokens. Token issuance and user
// management live in the external account service; this core only checks
// signatures.
type Auth struct {
	secret []byte
}

// NewAuth builds the validator around a shared HMAC secret.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// ValidateToken parses a bearer token (with or without the "Bearer "
// prefix) and returns its claims.
func (a *Auth) ValidateToken(token string) (jwt.MapClaims, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return nil, ErrMissingToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFrom pulls the token from the Authorization header, falling back
// to the "token" query parameter for websocket clients that cannot set
// headers.
func TokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// Require wraps a handler with token validation.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.ValidateToken(TokenFrom(r)); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
