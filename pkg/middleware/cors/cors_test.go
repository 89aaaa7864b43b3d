package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(origins ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/ops", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func request(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ops", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORSListedOrigin(t *testing.T) {
	r := corsRouter("https://ops.example.edu/")

	w := request(r, http.MethodGet, "https://ops.example.edu")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://ops.example.edu", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = request(r, http.MethodOptions, "https://ops.example.edu")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestCORSUnlistedOrigin(t *testing.T) {
	r := corsRouter("https://ops.example.edu")

	w := request(r, http.MethodGet, "https://evil.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = request(r, http.MethodGet, "")
	assert.Empty(t, w.Header().Get("Vary"))
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	r := corsRouter("*")

	w := request(r, http.MethodGet, "https://anywhere.example.com")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSDisabledByDefault(t *testing.T) {
	w := request(corsRouter(), http.MethodGet, "https://ops.example.edu")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
