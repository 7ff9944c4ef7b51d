package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxProducers bounds memory when callers rotate identities.
const maxProducers = 100000

// RateLimiter throttles task submission per producer: the X-API-Key when
// one is sent, otherwise the remote IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	producers map[string]*producer
}

type producer struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per producer with bursts
// of up to burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		producers: make(map[string]*producer),
	}
}

// Handler enforces the limit on next. Rejections carry Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := producerKey(r)
		remaining, wait, ok := rl.allow(key, time.Now())

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			slog.WarnContext(r.Context(), "task submission rate limited", "producer", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow spends one token of key's budget at now. When the budget is empty
// nothing is spent and wait says when the next token arrives.
func (rl *RateLimiter) allow(key string, now time.Time) (remaining int, wait time.Duration, ok bool) {
	rl.mu.Lock()
	p, found := rl.producers[key]
	if !found {
		if len(rl.producers) >= maxProducers {
			rl.mu.Unlock()
			return 0, time.Second, false
		}
		p = &producer{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.producers[key] = p
	}
	p.lastSeen = now
	rl.mu.Unlock()

	res := p.lim.ReserveN(now, 1)
	if !res.OK() {
		return 0, time.Second, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return 0, d, false
	}
	return int(p.lim.TokensAt(now)), 0, true
}

// Run forgets producers idle for longer than maxIdle, checking every
// interval until ctx ends.
func (rl *RateLimiter) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			rl.evict(now.Add(-maxIdle))
		}
	}
}

func (rl *RateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, p := range rl.producers {
		if p.lastSeen.Before(cutoff) {
			delete(rl.producers, k)
		}
	}
}

// Len is the number of tracked producers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.producers)
}

// producerKey identifies the caller by API key, else by RemoteAddr's host.
func producerKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return "key:" + k
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
