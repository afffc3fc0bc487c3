// Package modern adapts generation-2 sessions. One long-lived SDK client is
// shared by every topic; proposals are approved as they arrive and requests
// are answered through the request pipeline.
package modern

import (
	"context"
	"encoding/json"

	"github.com/isabella232/mech/message"
	"github.com/isabella232/mech/session"
)

type EventKind string

const (
	EventSessionProposal EventKind = "session_proposal"
	EventSessionRequest  EventKind = "session_request"
	EventAuthRequest     EventKind = "auth_request"
	EventSessionDelete   EventKind = "session_delete"
)

// Namespace is a per-chain capability grant.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Accounts []string `json:"accounts"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

type Proposal struct {
	ID                 int64                `json:"id"`
	Proposer           session.Metadata     `json:"proposer"`
	RequiredNamespaces map[string]Namespace `json:"requiredNamespaces,omitempty"`
}

type SessionRequest struct {
	Topic   string          `json:"topic"`
	ChainID string          `json:"chainId,omitempty"`
	Request message.Request `json:"request"`

	// Err is set when the request body could not be decoded. The request is
	// answered with it instead of being dispatched.
	Err error `json:"-"`
}

// PeerSession is the SDK's view of an established session.
type PeerSession struct {
	Topic  string           `json:"topic"`
	Peer   session.Metadata `json:"peer"`
	Expiry int64            `json:"expiry"`
}

type Event struct {
	Kind     EventKind
	Proposal *Proposal       // session_proposal
	Request  *SessionRequest // session_request
	Topic    string          // session_delete
	Payload  json.RawMessage // auth_request, opaque
}

// Client is the shared generation-2 SDK instance.
type Client interface {
	// Events is closed when the client shuts down.
	Events() <-chan Event
	Pair(ctx context.Context, uri string) error
	ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]Namespace) (topic string, err error)
	ActiveSessions(ctx context.Context) (map[string]PeerSession, error)
	RespondSessionRequest(ctx context.Context, topic string, resp message.Response) error
}
