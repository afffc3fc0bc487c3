package session

import (
	"encoding/json"
	"slices"
)

// Metadata is a peer's self-description. It arrives asynchronously after the
// handshake and may be absent.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// Clone returns a deep copy; nil stays nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Icons = slices.Clone(m.Icons)
	return &c
}

// WithMetadata is a session with its runtime metadata overlay, as exposed to renderers.
type WithMetadata struct {
	Session
	Metadata *Metadata
}

func (s WithMetadata) MarshalJSON() ([]byte, error) {
	w, err := s.Session.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		wireSession
		Metadata *Metadata `json:"metadata,omitempty"`
	}{w, s.Metadata})
}
