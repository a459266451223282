package httpapi

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"rollbook/internal/auth"
)

// maxTrackedClients bounds the limiter map; idle clients are swept once it
// is reached.
const maxTrackedClients = 4096

// ClientLimiter gives every API caller its own token bucket. Callers with a
// bearer token are keyed by token subject, so one operator behind a shared
// proxy does not starve another; anonymous callers are keyed by IP.
type ClientLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewClientLimiter allows perMinute requests per caller with bursts up to
// burst (perMinute when burst <= 0). A non-positive perMinute disables it.
func NewClientLimiter(perMinute, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &ClientLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Middleware must run after auth.Bearer to key on the token subject.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}
		if wait, ok := l.take(clientKey(c)); !ok {
			writeRateLimited(c, wait)
			c.Abort()
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// take spends one token for key, or reports how long until one is free.
func (l *ClientLimiter) take(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cl, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweep(now)
		}
		cl = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.seen = now

	r := cl.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

// sweep forgets clients idle long enough to have refilled completely.
func (l *ClientLimiter) sweep(now time.Time) {
	idle := time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second))
	for k, cl := range l.clients {
		if now.Sub(cl.seen) >= idle {
			delete(l.clients, k)
		}
	}
}
