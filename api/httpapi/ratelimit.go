package httpapi

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientEntry
	lastSweep time.Time
}

type clientEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiter(rpm, burst int, idleTTL time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Every(time.Minute / time.Duration(rpm)),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
		clients: make(map[string]*clientEntry),
	}
}

func (l *clientLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	l.sweepLocked(now)
	e, ok := l.clients[key]
	if !ok {
		e = &clientEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweepLocked drops idle clients at most once per idleTTL.
func (l *clientLimiter) sweepLocked(now time.Time) {
	if l.idleTTL <= 0 || now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for k, e := range l.clients {
		if now.Sub(e.seen) > l.idleTTL {
			delete(l.clients, k)
		}
	}
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *clientLimiter) retryAfterSeconds() int {
	return int(math.Ceil(time.Duration(float64(time.Second) / float64(l.limit)).Seconds()))
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
