package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func TestVerifyTokenRoundTrip(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	token, err := SignToken(testSecret, "reviewer-7", []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-7", id.Subject)
	assert.True(t, id.HasRole(RoleAdmin))
	assert.False(t, id.HasRole("reporter"))
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	token, err := SignToken("a-different-secret", "reviewer-7", []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)

	_, err = v.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenExpired(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	token, err := SignToken(testSecret, "reviewer-7", []string{RoleAdmin}, -time.Minute)
	require.NoError(t, err)

	_, err = v.VerifyToken(token)
	assert.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	var seen Identity
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := SignToken(testSecret, "reviewer-7", []string{RoleAdmin}, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "reviewer-7", seen.Subject)
	})
}
