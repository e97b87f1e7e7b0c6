package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret string, exp time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"customer_id": "c1",
		"exp":         time.Now().Add(exp).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidateToken(t *testing.T) {
	auth := NewAuth("test-secret")
	token := signedToken(t, "test-secret", time.Hour)

	claims, err := auth.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims["customer_id"])

	// Bare token without the prefix also works.
	_, err = auth.ValidateToken(token)
	assert.NoError(t, err)
}

func TestValidateToken_Rejections(t *testing.T) {
	auth := NewAuth("test-secret")

	_, err := auth.ValidateToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = auth.ValidateToken(signedToken(t, "other-secret", time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateToken(signedToken(t, "test-secret", -time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequire(t *testing.T) {
	auth := NewAuth("test-secret")
	handler := auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", time.Hour))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Websocket clients pass the token as a query parameter instead.
	r = httptest.NewRequest(http.MethodGet, "/?token="+signedToken(t, "test-secret", time.Hour), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
