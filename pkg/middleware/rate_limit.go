package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/socialmap/socialmap/backend/go-services/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	maxLimiterKeys = 10000
	limiterIdleTTL = 10 * time.Minute
)

// limiterStore holds one token bucket per key, capped at size entries. Buckets
// older than ttl are dropped and start full on the next request.
type limiterStore struct {
	mu    sync.Mutex
	cache *lru.LRU[string, *rate.Limiter]
	rps   float64
	burst int
}

func newLimiterStore(rps float64, burst, size int, ttl time.Duration) *limiterStore {
	return &limiterStore{
		cache: lru.NewLRU[string, *rate.Limiter](size, nil, ttl),
		rps:   rps,
		burst: burst,
	}
}

// get returns (and lazily creates) the limiter for key.
func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.cache.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.rps), s.burst)
	s.cache.Add(key, l)
	return l
}

// limitKey prefers the authenticated user id, so users behind one NAT don't
// share a bucket. Otherwise the client IP is used.
func limitKey(c *gin.Context) string {
	if u, ok := CurrentUser(c); ok {
		return "user:" + u.ID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// RateLimitMiddleware returns a Gin middleware enforcing a token-bucket per-key limit.
// rps = allowed events per second, burst = maximum tokens in bucket.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	store := newLimiterStore(rps, burst, maxLimiterKeys, limiterIdleTTL)
	return func(c *gin.Context) {
		if !store.get(limitKey(c)).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
