// internal/middleware/rate_limit.go
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client IP. Buckets idle longer than
// staleAfter are dropped by a background sweep.
type RateLimiter struct {
	clients    map[string]*client
	mtx        sync.Mutex
	rate       rate.Limit
	burst      int
	staleAfter time.Duration
}

func NewRateLimiter(r rate.Limit, burst int, staleAfter time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*client),
		rate:       r,
		burst:      burst,
		staleAfter: staleAfter,
	}

	go rl.sweep()

	return rl
}

func (rl *RateLimiter) sweep() {
	for {
		time.Sleep(time.Minute)
		rl.mtx.Lock()
		for ip, c := range rl.clients {
			if time.Since(c.lastSeen) > rl.staleAfter {
				delete(rl.clients, ip)
			}
		}
		rl.mtx.Unlock()
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mtx.Lock()
	defer rl.mtx.Unlock()

	c, exists := rl.clients[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.clients[ip] = &client{limiter, time.Now()}
		return limiter
	}

	c.lastSeen = time.Now()
	return c.limiter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.limiterFor(c.ClientIP())

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Per-surface limiters. The gateway callback limiter is generous because
// CyberSource retries undelivered callbacks in bursts from a small set of
// IPs; refunds are admin-only and rare, so a tight bucket there costs nothing.
var (
	generalLimiter = NewRateLimiter(rate.Every(time.Second), 10, 3*time.Minute)
	authLimiter    = NewRateLimiter(rate.Every(time.Minute), 5, 10*time.Minute)
	uploadLimiter  = NewRateLimiter(rate.Every(time.Minute), 10, 10*time.Minute)
	webhookLimiter = NewRateLimiter(rate.Every(time.Second), 30, 3*time.Minute)
	refundLimiter  = NewRateLimiter(rate.Every(time.Minute), 10, 10*time.Minute)
)

func GeneralRateLimit() gin.HandlerFunc {
	return generalLimiter.Middleware()
}

func AuthRateLimit() gin.HandlerFunc {
	return authLimiter.Middleware()
}

func UploadRateLimit() gin.HandlerFunc {
	return uploadLimiter.Middleware()
}

func WebhookRateLimit() gin.HandlerFunc {
	return webhookLimiter.Middleware()
}

func RefundRateLimit() gin.HandlerFunc {
	return refundLimiter.Middleware()
}
