// Package metadata holds the bridge's own self-description, shown to peers
// while they decide whether to pair.
package metadata

import "github.com/isabella232/mech/session"

const (
	DefaultName        = "Mech"
	DefaultDescription = "Sign with your mech"
	DefaultURL         = "https://clubcard.global"
)

// Store is read-only after construction.
type Store struct {
	self session.Metadata
}

// New fills unset fields of md with the defaults.
func New(md session.Metadata) *Store {
	if md.Name == "" {
		md.Name = DefaultName
	}
	if md.Description == "" {
		md.Description = DefaultDescription
	}
	if md.URL == "" {
		md.URL = DefaultURL
	}
	if md.Icons == nil {
		md.Icons = []string{}
	}
	return &Store{self: md}
}

// Self returns a copy callers may modify freely.
func (s *Store) Self() session.Metadata {
	return *s.self.Clone()
}
