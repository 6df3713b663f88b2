// Package ratelimit throttles outbound provider traffic with token buckets,
// one per configured time window. A request is allowed only when every
// window for the provider has capacity.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SlySlayer32/dashboard-link-saas-sub001/internal/models"
)

// Decision is the outcome of a TryConsume call. RetryAfter is derived from
// the most constrained window when the request is rejected.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Window     string
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the clock used for refill computation. Refill is a
// pure function of elapsed time, so tests can drive it deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

type windowBucket struct {
	name     string
	span     time.Duration
	capacity int
	lim      *rate.Limiter
}

// Limiter enforces the configured windows for a single provider. The
// per-window buckets refill independently; consumption is atomic across all
// of them — if any window is exhausted nothing is taken from the others.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows []*windowBucket
}

// New builds a limiter from the provider's configured limits. Windows with a
// zero cap are disabled. A limiter with no windows allows everything.
func New(limits models.RateLimits, opts ...Option) *Limiter {
	l := &Limiter{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	add := func(name string, span time.Duration, capacity int) {
		if capacity <= 0 {
			return
		}
		l.windows = append(l.windows, &windowBucket{
			name:     name,
			span:     span,
			capacity: capacity,
			lim:      rate.NewLimiter(rate.Limit(float64(capacity)/span.Seconds()), capacity),
		})
	}
	add("second", time.Second, limits.PerSecond)
	add("minute", time.Minute, limits.PerMinute)
	add("hour", time.Hour, limits.PerHour)
	add("day", 24*time.Hour, limits.PerDay)
	return l
}

// TryConsume takes n tokens from every window, or none at all. On rejection
// the decision carries the wait suggested by the most constrained window.
func (l *Limiter) TryConsume(n int) Decision {
	if len(l.windows) == 0 || n <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	reservations := make([]*rate.Reservation, 0, len(l.windows))
	worst := Decision{Allowed: true}

	for _, w := range l.windows {
		if n > w.capacity {
			// Can never fit this window; report its full span as the wait.
			worst = Decision{Allowed: false, RetryAfter: w.span, Window: w.name}
			break
		}
		res := w.lim.ReserveN(now, n)
		reservations = append(reservations, res)
		if delay := res.DelayFrom(now); delay > 0 && (worst.Allowed || delay > worst.RetryAfter) {
			worst = Decision{Allowed: false, RetryAfter: delay, Window: w.name}
		}
	}

	if !worst.Allowed {
		for _, res := range reservations {
			res.CancelAt(now)
		}
		return worst
	}
	return Decision{Allowed: true}
}

// Registry holds one limiter per provider id.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	opts     []Option
}

// NewRegistry constructs an empty registry. Options are applied to every
// limiter it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		opts:     opts,
	}
}

// Configure installs (or replaces) the limits for a provider.
func (r *Registry) Configure(providerID string, limits models.RateLimits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !limits.Configured() {
		delete(r.limiters, providerID)
		return
	}
	r.limiters[providerID] = New(limits, r.opts...)
}

// Remove drops the limiter for a provider.
func (r *Registry) Remove(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, providerID)
}

// TryConsume applies the provider's limiter. Providers without configured
// limits are never throttled.
func (r *Registry) TryConsume(providerID string, n int) Decision {
	r.mu.RLock()
	lim, ok := r.limiters[providerID]
	r.mu.RUnlock()
	if !ok {
		return Decision{Allowed: true}
	}
	return lim.TryConsume(n)
}
