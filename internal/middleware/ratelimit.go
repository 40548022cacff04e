package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	defaultRequestsPerSecond = 2
	defaultBurst             = 10
	defaultMaxClients        = 10000
	defaultClientTTL         = 10 * time.Minute
)

// ClientRateLimiter keeps one token bucket per client key. The table is an
// expiring LRU so idle clients are forgotten and memory stays bounded.
type ClientRateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewClientRateLimiter creates a limiter from the API rate limit settings
func NewClientRateLimiter(config domain.RateLimitConfig) *ClientRateLimiter {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := config.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	size := config.MaxClients
	if size <= 0 {
		size = defaultMaxClients
	}
	ttl := config.ClientTTL
	if ttl <= 0 {
		ttl = defaultClientTTL
	}

	return &ClientRateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
	}
}

// Allow reports whether the client may make a request now. When it may not,
// the returned duration is how long until a token is available.
func (l *ClientRateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	limiter, ok := l.clients.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(key, limiter)
	}
	l.mu.Unlock()

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, delay
}

// Clients returns the number of tracked clients
func (l *ClientRateLimiter) Clients() int {
	return l.clients.Len()
}

// RateLimit rejects requests over the per-client rate with 429. Clients are
// keyed by caller id when known, else by IP.
func RateLimit(limiter *ClientRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			key = "user:" + userID
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.burst))

		allowed, wait := limiter.Allow(key)
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": domain.NewAPIError(domain.CodeRateLimit,
					"Too many requests, please slow down", nil, c.GetString(CorrelationIDKey)),
			})
			return
		}

		c.Next()
	}
}
