package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (t tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := t[token]
	if !ok {
		return nil, appErrors.Wrap(errors.New("signature is invalid"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return claims, nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	tokens := tokenStub{
		"admin": {UserID: "u-admin", Role: models.RoleAdmin},
		"staff": {UserID: "u-staff", Role: models.RoleStaff},
	}
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/me", JWT(tokens), func(c *gin.Context) {
		SetMeta(c, "role", CurrentUser(c).Role)
		c.JSON(http.StatusOK, gin.H{"user": CurrentUser(c).UserID, "meta": ExtractMeta(c)})
	})
	r.DELETE("/students/:id", JWT(tokens), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "Token staff").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "Bearer nope").Code)

	w := do(r, http.MethodGet, "/me", "Bearer staff")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u-staff","meta":{"role":"STAFF"}}`, w.Body.String())
}

func TestRequireRoles(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodDelete, "/students/s1", "Bearer staff").Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/students/s1", "Bearer admin").Code)

	gin.SetMode(gin.TestMode)
	bare := gin.New()
	bare.GET("/x", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, do(bare, http.MethodGet, "/x", "").Code)
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, http.MethodGet, "/health", "")
	do(r, http.MethodGet, "/missing", "")

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
}
