// Package legacy adapts generation-1 sessions: one client per pairing URI,
// driven by callbacks the SDK delivers as events.
//
// Per session state machine:
//
//	Pair(uri) ──► Pairing ──dial ok──► AwaitingPeerMetadata ──session_request──► Active
//	                 │                        │                                   │
//	              dial err                error / approve err                disconnect
//	                 ▼                        ▼                                   ▼
//	           (no session)              Disconnected ◄──────────────────── Disconnected
//
// Disconnected is terminal; pairing the same URI again creates a fresh instance.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

type EventKind string

const (
	EventSessionRequest EventKind = "session_request"
	EventConnect        EventKind = "connect"
	EventCallRequest    EventKind = "call_request"
	EventDisconnect     EventKind = "disconnect"
	EventError          EventKind = "error"
)

// Event is one callback from the legacy SDK.
type Event struct {
	Kind     EventKind
	PeerMeta *session.Metadata // session_request, connect
	Request  *message.Request  // call_request
	Err      error             // error; on call_request, why the request could not be decoded
}

// Client is one SDK connection bound to a single pairing URI.
type Client interface {
	// Events is closed when the client is closed or its transport is lost.
	Events() <-chan Event
	ApproveSession(ctx context.Context, accounts []string, chainID uint64) error
	ApproveRequest(ctx context.Context, id int64, result json.RawMessage) error
	RejectRequest(ctx context.Context, id int64, rpcErr *message.JSONRPCError) error
	KillSession(ctx context.Context) error
	Close() error
}

// Dialer opens a Client for a pairing URI.
type Dialer func(ctx context.Context, uri string) (Client, error)

type State int32

const (
	StatePairing State = iota
	StateAwaitingPeerMetadata
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePairing:
		return "pairing"
	case StateAwaitingPeerMetadata:
		return "awaiting-peer-metadata"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
