package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientTTL is how long an idle client's limiter is kept
const clientTTL = 10 * time.Minute

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// OnlyMutating exempts GET, HEAD and OPTIONS requests
	OnlyMutating bool
}

// DefaultRateLimitConfig returns production-ready rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		OnlyMutating:      true,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
		swept   = time.Now()
	)

	return func(c *gin.Context) {
		if cfg.OnlyMutating && safeMethod(c.Request.Method) {
			c.Next()
			return
		}

		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(swept) > clientTTL {
			for key, cl := range clients {
				if now.Sub(cl.lastSeen) > clientTTL {
					delete(clients, key)
				}
			}
			swept = now
		}
		cl, exists := clients[ip]
		if !exists {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
