package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// How often the limiter table sheds clients that stopped talking.
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

// visitors tracks one token bucket per client IP.
type visitors struct {
	mu    sync.Mutex
	rps   int
	burst int
	seen  map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (v *visitors) get(ip string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.seen[ip]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(v.rps), v.burst)}
		v.seen[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (v *visitors) sweep() {
	for {
		time.Sleep(limiterSweepInterval)
		v.mu.Lock()
		for ip, entry := range v.seen {
			if time.Since(entry.lastSeen) > limiterIdleTimeout {
				delete(v.seen, ip)
			}
		}
		v.mu.Unlock()
	}
}

// RateLimiter returns a middleware enforcing a per-IP token bucket across
// the whole API surface. rps is the steady-state rate, burst the bucket
// size; dashboard polling sits well under both at the defaults.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	v := &visitors{rps: rps, burst: burst, seen: make(map[string]*visitor)}
	go v.sweep()

	return func(c *gin.Context) {
		if !v.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
