package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval  = 5 * time.Minute
	staleClientAfter = 10 * time.Minute
	apiKeyHeader     = "X-Api-Key" //nolint:gosec // header name
	forwardedHeader  = "X-Forwarded-For"
)

// RateLimiter applies a token bucket per client.
type RateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientBucket
	perSecond   rate.Limit
	burst       int
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type clientBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter allows requestsPerMinute per client with the given burst.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients:     make(map[string]*clientBucket),
		perSecond:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:       burst,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) bucket(clientID string) *clientBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[clientID]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.clients[clientID] = b
	}
	b.lastAccess = time.Now()
	return b
}

// Allow reports whether clientID may make a request now.
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.bucket(clientID).limiter.Allow()
}

// retryAfter is the number of whole seconds until the next token.
func (rl *RateLimiter) retryAfter(clientID string) int {
	reservation := rl.bucket(clientID).limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return int(delay.Seconds()) + 1
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictStale(time.Now().Add(-staleClientAfter))
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) evictStale(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for id, b := range rl.clients {
		if b.lastAccess.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// clientID prefers the authenticated subject, then an API key, then the
// caller's address.
func clientID(r *http.Request) string {
	if subject := Subject(r); subject != "" {
		return "sub:" + subject
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return "apikey:" + key
	}
	if xff := r.Header.Get(forwardedHeader); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if host, _, err := net.SplitHostPort(first); err == nil {
			return "ip:" + host
		}
		return "ip:" + first
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

// Middleware answers 429 once a client's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := clientID(r)
		if rl.Allow(id) {
			next.ServeHTTP(w, r)
			return
		}

		retry := rl.retryAfter(id)
		util.Log(r.Context()).Warn("rate limit exceeded",
			"client_id", id,
			"path", r.URL.Path,
			"retry_after", retry,
		)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
			"Too many requests. Please retry after "+strconv.Itoa(retry)+" seconds.")
	})
}
