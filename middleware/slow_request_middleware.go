package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// SlowRequestMiddleware warns when a request is still running after threshold.
// It never cancels: once dispatched, a request runs until the signing
// authority answers.
func SlowRequestMiddleware(threshold time.Duration, log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if threshold <= 0 {
			return next
		}
		return func(ctx context.Context, s session.Session, req *message.Request) (any, error) {
			logger := &log
			if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
				logger = l
			}
			start := time.Now()
			timer := time.AfterFunc(threshold, func() {
				logger.Warn().
					Str("method", req.Method).
					Stringer("session", s).
					Dur("elapsed", time.Since(start)).
					Msg("Request still waiting on signer")
			})
			defer timer.Stop()
			return next(ctx, s, req)
		}
	}
}
