package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// DefaultIdleTTL is how long an unused key keeps its bucket
const DefaultIdleTTL = 10 * time.Minute

// IngressLimiter is a keyed token bucket guarding inbound endpoints. Each key
// gets its own rate.Limiter; buckets idle for longer than the TTL are dropped
// on the next sweep.
type IngressLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	clock     shared.Clock
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIngressLimiter creates a limiter allowing rps requests per second per key
// with the given burst
func NewIngressLimiter(rps float64, burst int, clock shared.Clock) *IngressLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	clock = shared.ClockOrSystem(clock)
	return &IngressLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(rps),
		burst:     burst,
		idleTTL:   DefaultIdleTTL,
		lastSweep: clock.Now(),
		clock:     clock,
	}
}

// Allow consumes one token for key. When the bucket is empty it reports how
// long until the next token.
func (l *IngressLimiter) Allow(key string) (bool, time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Size returns the number of tracked keys
func (l *IngressLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *IngressLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// KeyFunc derives the limiter key of a request
type KeyFunc func(c *gin.Context) string

// ClientIPKey keys by client IP
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// MarketplaceIPKey keys by the :marketplace route parameter and client IP
func MarketplaceIPKey(c *gin.Context) string {
	return c.Param("marketplace") + "|" + c.ClientIP()
}

// RateLimit rejects requests over the per-key budget with 429 and Retry-After
func RateLimit(limiter *IngressLimiter, keyFunc KeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	return func(c *gin.Context) {
		ok, wait := limiter.Allow(keyFunc(c))
		if ok {
			c.Next()
			return
		}
		if wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		abortWithError(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited, "Too many requests")
	}
}
