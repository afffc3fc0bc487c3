package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// SessionLimiter keeps one token bucket per session. Buckets are created on a
// session's first request and dropped by Retain once the session is gone.
type SessionLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSessionLimiter(r float64, burst int) *SessionLimiter {
	return &SessionLimiter{
		limit:    rate.Limit(r),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *SessionLimiter) allow(id string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Retain drops the buckets of sessions missing from list. Its signature
// matches a registry observer.
func (l *SessionLimiter) Retain(list []session.WithMetadata) {
	live := make(map[string]struct{}, len(list))
	for _, s := range list {
		live[s.ID] = struct{}{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.limiters {
		if _, ok := live[id]; !ok {
			delete(l.limiters, id)
		}
	}
}

// Len reports how many buckets are held.
func (l *SessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects a request with LimitExceeded when its session's bucket is
// empty. A non-positive rate disables limiting.
func (l *SessionLimiter) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if l.limit <= 0 {
			return next
		}
		return func(ctx context.Context, s session.Session, req *message.Request) (any, error) {
			if !l.allow(s.ID) {
				return nil, message.NewError(message.CodeLimitExceeded, "rate limit exceeded")
			}
			return next(ctx, s, req)
		}
	}
}

// RateLimitMiddleware gives every session its own token bucket so one noisy
// peer cannot starve the others. Buckets are never dropped; long-running
// processes use a SessionLimiter subscribed to the registry instead.
func RateLimitMiddleware(r float64, burst int) Middleware {
	return NewSessionLimiter(r, burst).Middleware()
}
