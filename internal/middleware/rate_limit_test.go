// internal/middleware/rate_limit_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newLimitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doRequest(r *gin.Engine, ip string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":12345"
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	r := newLimitedRouter(rl)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "10.0.0.1"))
}

func TestRateLimiterTracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	r := newLimitedRouter(rl)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "10.0.0.1"))

	// A fresh client gets its own bucket.
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.2"))
}
