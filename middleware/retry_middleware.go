package middleware

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

// RetryMiddleware re-issues a request that failed at the transport level, with
// exponential backoff. Methods listed in skip (anything that submits or signs)
// are never retried, and neither are coded JSON-RPC errors.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, log zerolog.Logger, skip ...string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s session.Session, req *message.Request) (any, error) {
			result, err := next(ctx, s, req)
			if slices.Contains(skip, req.Method) {
				return result, err
			}
			for i := 0; i < maxRetries; i++ {
				if err == nil || !IsTransient(err) {
					return result, err
				}
				delay := baseDelay * time.Duration(1<<i) // Exponential backoff
				log.Warn().Err(err).
					Str("method", req.Method).
					Int("attempt", i+1).
					Dur("delay", delay).
					Msg("Retrying request")
				select {
				case <-ctx.Done():
					return result, err
				case <-time.After(delay):
				}
				result, err = next(ctx, s, req)
			}
			return result, err
		}
	}
}

// IsTransient reports whether err looks like a network failure worth retrying.
func IsTransient(err error) bool {
	var rpcErr *message.JSONRPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
