package metadata

import (
	"testing"

	"github.com/isabella232/mech/session"
)

func TestDefaults(t *testing.T) {
	md := New(session.Metadata{}).Self()
	if md.Name != "Mech" || md.Description != "Sign with your mech" || md.URL != "https://clubcard.global" {
		t.Fatalf("unexpected defaults %+v", md)
	}
	if md.Icons == nil || len(md.Icons) != 0 {
		t.Fatalf("icons must be an empty list, got %v", md.Icons)
	}
}

func TestOverridesAndCopy(t *testing.T) {
	s := New(session.Metadata{Name: "Club", Icons: []string{"https://x/icon.png"}})
	md := s.Self()
	if md.Name != "Club" || md.Description != DefaultDescription {
		t.Fatalf("unexpected metadata %+v", md)
	}
	md.Icons[0] = "changed"
	if s.Self().Icons[0] != "https://x/icon.png" {
		t.Fatal("Self must return a copy")
	}
}
