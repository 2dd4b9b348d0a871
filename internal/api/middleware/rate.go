package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL drops a client's limiter after this long without requests.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns production-ready rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           3 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clients holds one limiter per IP and forgets idle ones.
type clients struct {
	cfg       RateLimitConfig
	mu        sync.Mutex
	byIP      map[string]*client
	lastSweep time.Time
}

func newClients(cfg RateLimitConfig) *clients {
	return &clients{cfg: cfg, byIP: make(map[string]*client), lastSweep: time.Now()}
}

func (cs *clients) allow(ip string, now time.Time) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cfg.IdleTTL > 0 && now.Sub(cs.lastSweep) > cs.cfg.IdleTTL {
		for k, c := range cs.byIP {
			if now.Sub(c.lastSeen) > cs.cfg.IdleTTL {
				delete(cs.byIP, k)
			}
		}
		cs.lastSweep = now
	}

	c, ok := cs.byIP[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(cs.cfg.RequestsPerSecond), cs.cfg.Burst)}
		cs.byIP[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (cs *clients) size() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.byIP)
}

// RateLimit creates a per-IP rate limiting middleware. A websocket session
// costs one request, at upgrade.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	cs := newClients(cfg)
	return func(c *gin.Context) {
		if !cs.allow(c.ClientIP(), time.Now()) {
			tooMany(c)
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			tooMany(c)
			return
		}
		c.Next()
	}
}

func tooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
	})
}
