package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/internal/service"
)

type recordedRequest struct {
	method, path string
	status       int
}

type observerStub struct {
	seen []recordedRequest
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.seen = append(o.seen, recordedRequest{method: method, path: path, status: status})
}

func newProtectedRouter(tokens *service.TokenService, observer *observerStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Metrics(observer))
	group := router.Group("/ops", JWT(tokens))
	group.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	group.POST("/start", RequireRoles(models.RoleOperator), func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return router
}

func serve(router *gin.Engine, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRoles(t *testing.T) {
	tokens := service.NewTokenService(service.TokenConfig{Secret: "s3cret", Issuer: "seatwatch", TTL: time.Hour})
	observer := &observerStub{}
	router := newProtectedRouter(tokens, observer)

	viewer, _, err := tokens.Issue("viewer", models.RoleViewer)
	require.NoError(t, err)
	operator, _, err := tokens.Issue("operator", models.RoleOperator)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/ops/status", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/ops/status", "garbage"))
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ops/status", viewer))
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, "/ops/start", viewer))
	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/ops/start", operator))

	require.Len(t, observer.seen, 5)
	assert.Equal(t, recordedRequest{method: http.MethodPost, path: "/ops/start", status: http.StatusAccepted}, observer.seen[4])
}

func TestMetricsLabelsUnmatchedRoutes(t *testing.T) {
	observer := &observerStub{}
	router := newProtectedRouter(service.NewTokenService(service.TokenConfig{Secret: "x"}), observer)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/nope/123", ""))
	require.Len(t, observer.seen, 1)
	assert.Equal(t, "unmatched", observer.seen[0].path)
}
