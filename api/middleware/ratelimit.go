package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/models"
	"golang.org/x/time/rate"
)

const (
	clientIdleTTL = time.Hour
	sweepInterval = 5 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientBuckets holds one token bucket per client address. Idle buckets
// are swept during lookups, at most once per sweepInterval.
type clientBuckets struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

func (cb *clientBuckets) get(client string, now time.Time) *rate.Limiter {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if now.Sub(cb.lastSweep) >= sweepInterval {
		for k, b := range cb.buckets {
			if now.Sub(b.lastSeen) >= clientIdleTTL {
				delete(cb.buckets, k)
			}
		}
		cb.lastSweep = now
	}

	b, ok := cb.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cb.rps, cb.burst)}
		cb.buckets[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimit throttles each client address with a token bucket. Rejected
// requests get 429, a RATE_LIMITED body and a Retry-After hint.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	cb := &clientBuckets{
		rps:       rate.Limit(cfg.RequestsPerSecond),
		burst:     max(cfg.Burst, 1),
		buckets:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
	}

	return func(c *gin.Context) {
		now := time.Now()
		r := cb.get(c.ClientIP(), now).ReserveN(now, 1)
		if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
			r.CancelAt(now)
			if r.OK() {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: "rate limit exceeded, please slow down",
				Code:  models.ErrCodeRateLimited,
			})
			return
		}
		c.Next()
	}
}
