package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arothfield/docsite-web/internal/httpmw"
)

// visitor is the per-IP bucket plus the bookkeeping eviction and one-shot
// logging need.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time

	// logged is set after the first denial so each offender produces one
	// log line, not one per request. A fresh entry after eviction logs again.
	logged bool
}

// IPLimiter rate-limits requests per client IP using token buckets, with a
// background goroutine evicting idle entries. The doc server holds no
// per-request state beyond this map, so the map itself is the resource the
// maxVisitors cap protects.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int

	// ttl is how long an idle IP keeps its bucket before eviction.
	ttl time.Duration

	// maxVisitors bounds the map so an address-rotating client cannot grow
	// it without limit. 0 disables the cap. When full, IPs already in the
	// map are still served; unknown IPs are turned away until eviction
	// frees room.
	maxVisitors int
	atCapacity  bool

	// OnFirstDenied fires once per visitor on their first rate-limit
	// denial, for logging. OnDenied fires on every denial, for counters.
	OnFirstDenied func(ip string)
	OnDenied      func(ip string)

	// OnCapacity fires once when the visitor map first fills, then not
	// again until eviction brings it back under the cap.
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket capacity. WithRate(10, 50)
// admits a burst of 50, then 10 requests per second sustained.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle IP keeps its bucket before eviction.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		l.ttl = d
	}
}

// WithMaxVisitors bounds the visitor map. 0 means unbounded.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) {
		l.maxVisitors = n
	}
}

// WithOnFirstDenied sets the once-per-visitor denial callback. Separate
// from OnDenied so the caller can log once but count every denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets the every-denial callback.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnDenied = fn
	}
}

// WithOnCapacity sets the callback for the visitor map filling up.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) {
		l.OnCapacity = fn
	}
}

// New creates an IPLimiter and starts its eviction goroutine, which exits
// when ctx is cancelled at shutdown.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxVisitors: 100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// allow reports whether a request from ip may proceed, creating the
// visitor entry on first sight. Callbacks run after the lock is released
// so slow logging never stalls other requests.
func (l *IPLimiter) allow(ip string) bool {
	var firstDenial, denied, filled bool

	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			// full map, unknown IP. Serving it would mean either unbounded
			// growth or evicting someone still active, so it waits.
			if !l.atCapacity {
				l.atCapacity = true
				filled = true
			}
			l.mu.Unlock()
			if filled && l.OnCapacity != nil {
				l.OnCapacity()
			}
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	if !v.limiter.Allow() {
		denied = true
		if !v.logged {
			v.logged = true
			firstDenial = true
		}
	}
	l.mu.Unlock()

	if denied {
		if firstDenial && l.OnFirstDenied != nil {
			l.OnFirstDenied(ip)
		}
		if l.OnDenied != nil {
			l.OnDenied(ip)
		}
		return false
	}
	return true
}

// evictLoop drops visitors idle longer than the TTL. Runs at ttl/2 so a
// stale entry lives at most 1.5x the TTL.
func (l *IPLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl {
					delete(l.visitors, ip)
				}
			}
			if l.maxVisitors == 0 || len(l.visitors) < l.maxVisitors {
				l.atCapacity = false
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-IP limit with a 429. The body
// deliberately says nothing about limits, remaining budget, or refill
// timing.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// resolved upstream by the ClientIP middleware, which already
		// handled X-Forwarded-For and trusted-proxy depth
		ip := httpmw.ClientIPFromContext(r.Context())

		if !l.allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
