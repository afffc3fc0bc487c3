package middleware

import (
	"context"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// LoggingMiddleware tags each request with a trace id, makes the tagged logger
// available through zerolog.Ctx, and logs the outcome.
func LoggingMiddleware(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s session.Session, req *message.Request) (any, error) {
			reqLog := log.With().
				Str("trace_id", xid.New().String()).
				Str("method", req.Method).
				Int64("request_id", req.ID).
				Stringer("generation", s.Kind).
				Logger()
			ctx = reqLog.WithContext(ctx)

			start := time.Now()
			result, err := next(ctx, s, req)
			duration := time.Since(start)
			if err != nil {
				reqLog.Warn().Err(err).Dur("duration", duration).Msg("Request failed")
			} else {
				reqLog.Debug().Dur("duration", duration).Msg("Request handled")
			}
			return result, err
		}
	}
}
