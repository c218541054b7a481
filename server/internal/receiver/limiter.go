package receiver

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10_000
	clientIdleTimeout = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter applies a token bucket per client IP.
// A nil *Limiter allows everything.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter

	rps          rate.Limit
	burst        int
	trustForward bool
}

// NewLimiter returns a Limiter allowing rps requests per second per client
// with the given burst. rps <= 0 disables limiting and returns nil.
//
// The client is the connection's remote address. Only with trustForwarded set,
// for deployments behind a proxy that overwrites X-Forwarded-For, is the first
// hop of that header used instead; otherwise any client could pick its own key.
func NewLimiter(rps float64, burst int, trustForwarded bool) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		clients: make(map[string]*clientLimiter),
		rps:          rate.Limit(rps),
		burst:        burst,
		trustForward: trustForwarded,
	}
}

// Allow reports whether the client behind r may proceed.
func (l *Limiter) Allow(r *http.Request) bool {
	if l == nil {
		return true
	}
	ip := clientIP(r, l.trustForward)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	if len(l.clients) > maxTrackedClients {
		l.cleanupLocked(now.Add(-clientIdleTimeout))
	}
	return c.limiter.AllowN(now, 1)
}

func (l *Limiter) cleanupLocked(threshold time.Time) {
	for ip, c := range l.clients {
		if c.lastSeen.Before(threshold) {
			delete(l.clients, ip)
		}
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
