package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	pruneEvery = time.Minute
	clientIdle = 3 * time.Minute
)

// RateLimiter applies a token bucket per client key. Buckets idle for longer
// than clientIdle are dropped by a background pruner that Stop ends.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   func(*http.Request) string
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*bucket

	done chan struct{}
	once sync.Once
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows rps requests per second per client IP with the
// given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	l := &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		key:     ClientIP,
		now:     time.Now,
		clients: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.pruneLoop()
	return l
}

// Stop ends the pruner. It is safe to call more than once.
func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// reserve takes a token for key. When none is available it returns the wait
// until one will be.
func (l *RateLimiter) reserve(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	b, ok := l.clients[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *RateLimiter) pruneLoop() {
	t := time.NewTicker(pruneEvery)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.prune(time.Now())
		}
	}
}

func (l *RateLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.clients {
		if now.Sub(b.seen) > clientIdle {
			delete(l.clients, k)
		}
	}
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := l.reserve(l.key(r)); !ok {
			TooManyRequests(w, r, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the peer address of r without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
