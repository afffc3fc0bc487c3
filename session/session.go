// Package session defines the paired-peer model shared by both protocol generations.
//
// A Session is a tagged variant: Legacy sessions are identified by the pairing
// URI they were created from, Modern sessions by the topic the relay SDK assigned
// on approval. A session never changes generation.
//
// The persisted JSON shape keeps the historical layout so stored lists remain
// readable across versions:
//
//	{"uri":"wc:...@1?...","legacy":true}
//	{"topic":"7f6e..."}
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the protocol generation of a session.
type Kind int

const (
	Legacy Kind = iota + 1 // single-topic, callback-driven scheme (generation 1)
	Modern                 // multi-namespace, topic-based scheme (generation 2)
)

func (k Kind) String() string {
	switch k {
	case Legacy:
		return "legacy"
	case Modern:
		return "modern"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrUnknownKind is returned when a session does not carry a known generation tag.
var ErrUnknownKind = errors.New("session: unknown generation")

// Session identifies one paired peer.
type Session struct {
	Kind Kind
	ID   string // URI for Legacy, topic for Modern
}

// NewLegacy returns a legacy session bound to a pairing URI.
func NewLegacy(uri string) Session {
	return Session{Kind: Legacy, ID: uri}
}

// NewModern returns a modern session bound to a relay topic.
func NewModern(topic string) Session {
	return Session{Kind: Modern, ID: topic}
}

func (s Session) IsLegacy() bool { return s.Kind == Legacy }

func (s Session) IsModern() bool { return s.Kind == Modern }

// Valid reports whether the session has a known generation and a non-empty identifier.
func (s Session) Valid() bool {
	return (s.Kind == Legacy || s.Kind == Modern) && s.ID != ""
}

func (s Session) String() string {
	return s.Kind.String() + ":" + s.ID
}

type wireSession struct {
	URI    string `json:"uri,omitempty"`
	Topic  string `json:"topic,omitempty"`
	Legacy bool   `json:"legacy,omitempty"`
}

func (s Session) wire() (wireSession, error) {
	switch s.Kind {
	case Legacy:
		return wireSession{URI: s.ID, Legacy: true}, nil
	case Modern:
		return wireSession{Topic: s.ID}, nil
	default:
		return wireSession{}, fmt.Errorf("%w: %d", ErrUnknownKind, int(s.Kind))
	}
}

func (w wireSession) session() (Session, error) {
	switch {
	case w.Legacy && w.URI != "":
		return NewLegacy(w.URI), nil
	case !w.Legacy && w.Topic != "":
		return NewModern(w.Topic), nil
	default:
		return Session{}, fmt.Errorf("%w: uri=%q topic=%q legacy=%v", ErrUnknownKind, w.URI, w.Topic, w.Legacy)
	}
}

func (s Session) MarshalJSON() ([]byte, error) {
	w, err := s.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.session()
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying the session a request originated from.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by NewContext, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
