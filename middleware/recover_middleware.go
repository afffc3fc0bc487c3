package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// RecoverMiddleware converts a panic below it into an internal JSON-RPC error,
// so the adapter still has something to answer with.
func RecoverMiddleware(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s session.Session, req *message.Request) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("method", req.Method).
						Stringer("session", s).
						Interface("panic", r).
						Str("stack", string(debug.Stack())).
						Msg("Request handler panicked")
					result = nil
					err = message.NewError(message.CodeInternalError, fmt.Sprintf("internal error: %v", r))
				}
			}()
			return next(ctx, s, req)
		}
	}
}
