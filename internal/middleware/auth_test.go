package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtectedRouter(cfg *config.Config) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/").Subrouter()
	api.Use(AuthMiddleware(cfg))
	api.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFrom(r.Context())
		w.Write([]byte(claims.Role))
	})
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(RequireRole(RoleAdmin))
	admin.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	router := newProtectedRouter(cfg)

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateToken("other-secret", 1, "member", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do("/me", token).Code)
	})

	t.Run("non-positive ttl falls back to a day", func(t *testing.T) {
		token, err := GenerateToken(cfg.JWTSecret, 1, "member", -time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, do("/me", token).Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/me", "not.a.jwt").Code)
	})

	t.Run("valid member token", func(t *testing.T) {
		token, err := GenerateToken(cfg.JWTSecret, 7, "member", time.Hour)
		require.NoError(t, err)
		rec := do("/me", token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "member", rec.Body.String())
	})

	t.Run("member cannot reach admin routes", func(t *testing.T) {
		token, err := GenerateToken(cfg.JWTSecret, 7, "member", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, do("/admin/jobs", token).Code)
	})

	t.Run("admin reaches admin routes", func(t *testing.T) {
		token, err := GenerateToken(cfg.JWTSecret, 0, RoleAdmin, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, do("/admin/jobs", token).Code)
	})
}

func TestParseTokenClaims(t *testing.T) {
	token, err := GenerateToken("s", 42, RoleAdmin, time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken("s", token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.MemberID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.NotNil(t, claims.ExpiresAt)
}
