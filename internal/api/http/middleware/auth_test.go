package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomBuge/openclaw-mission-control/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(cfg AdminAuthConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/admin", AdminAuth(cfg), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ActorKey))
	})
	return r
}

func do(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/admin", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuthNotConfigured(t *testing.T) {
	w := do(setupRouter(AdminAuthConfig{}), "X-API-Key", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuthAPIKey(t *testing.T) {
	r := setupRouter(AdminAuthConfig{APIKey: "admin-key"})

	w := do(r, "X-API-Key", "admin-key")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api-key", w.Body.String())

	w = do(r, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthBcryptAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("admin-key")
	require.NoError(t, err)
	r := setupRouter(AdminAuthConfig{APIKey: hash})

	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "admin-key").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "X-API-Key", hash).Code)
}

func TestAdminAuthJWT(t *testing.T) {
	r := setupRouter(AdminAuthConfig{JWTSecret: "jwt-secret"})

	admin, err := auth.GenerateToken(auth.Config{Secret: "jwt-secret"}, "u1", "ops", auth.RoleAdmin)
	require.NoError(t, err)
	w := do(r, "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())

	viewer, err := auth.GenerateToken(auth.Config{Secret: "jwt-secret"}, "u2", "viewer", "viewer")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(r, "Authorization", "Bearer "+viewer).Code)

	forged, err := auth.GenerateToken(auth.Config{Secret: "other"}, "u3", "mallory", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Authorization", "Bearer "+forged).Code)

	assert.Equal(t, http.StatusUnauthorized, do(r, "Authorization", "Basic abc").Code)
}
