// Package middleware wraps the request dispatcher in an onion of cross-cutting
// handlers shared by both protocol adapters.
//
//	adapter ──► Recover ──► Logging ──► RateLimit ──► Retry ──► SlowRequest ──► dispatcher
//	        ◄──────────────────── result or error ◄──────────────────────────────┘
//
// A HandlerFunc must return exactly one of a result or an error for every call.
package middleware

import (
	"context"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

type HandlerFunc func(ctx context.Context, s session.Session, req *message.Request) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
