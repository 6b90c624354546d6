package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds transaction submissions per identity.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func (c RateLimitConfig) enabled() bool {
	return c.RequestsPerSecond > 0 && c.Burst > 0
}

const minimumLimiterIdle = time.Minute

// identityLimiters keeps one token bucket per authenticated identity.
// Buckets unused for idleTTL are swept; by then they would have refilled
// to full burst, so dropping them does not change admission.
type identityLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIdentityLimiters(cfg RateLimitConfig) *identityLimiters {
	refill := time.Duration(float64(cfg.Burst) / cfg.RequestsPerSecond * float64(time.Second))
	idleTTL := minimumLimiterIdle
	if refill > idleTTL {
		idleTTL = refill
	}
	return &identityLimiters{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (s *identityLimiters) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.lastSweep.IsZero() {
		s.lastSweep = now
	}
	if now.Sub(s.lastSweep) >= s.idleTTL {
		s.sweep(now)
	}
	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *identityLimiters) sweep(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) >= s.idleTTL {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

func (s *identityLimiters) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// rateLimitMiddleware must run after authorizeRequest.
func rateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	if !cfg.enabled() {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	store := newIdentityLimiters(cfg)
	return func(c *gin.Context) {
		identity := c.GetString(identityContextKey)
		if !store.limiter(identity).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
			return
		}
		c.Next()
	}
}
