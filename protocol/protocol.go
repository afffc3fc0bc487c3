// Package protocol classifies pairing URIs by the protocol generation embedded in them.
//
// Pairing URI format (both generations share the scheme and the topic@version head):
//
//	wc:<topic>@<version>?<query>
//	│   │        │         │
//	│   │        │         └─ v1: bridge=<url>&key=<hex>
//	│   │        │            v2: relay-protocol=irn&symKey=<hex>
//	│   │        └─ 1 = legacy, 2 = modern
//	│   └─ handshake topic
//	└─ scheme, rejects anything that is not a pairing code
//
// The query is not validated here. The relay SDK checks keys and bridge URLs when
// the adapter pairs.
package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	Scheme        = "wc"
	VersionLegacy = 1
	VersionModern = 2
)

var (
	ErrInvalidScheme  = errors.New("invalid scheme")
	ErrMissingTopic   = errors.New("missing topic")
	ErrMissingVersion = errors.New("missing version")
)

// URI is a parsed pairing URI.
type URI struct {
	Raw     string     // Original string, used as the legacy session identifier
	Topic   string     // Handshake topic
	Version int        // Protocol generation
	Params  url.Values // Query parameters, opaque to the bridge
}

func (u *URI) IsLegacy() bool { return u.Version == VersionLegacy }

func (u *URI) IsModern() bool { return u.Version == VersionModern }

// ParseURI validates the scheme and extracts topic and version.
//
// Only the two known generations are accepted; any other version is rejected
// so that an unknown pairing code never reaches an adapter.
func ParseURI(raw string) (*URI, error) {
	raw = strings.TrimSpace(raw)

	// Step 1: scheme
	rest, ok := strings.CutPrefix(raw, Scheme+":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScheme, raw)
	}

	// Step 2: split head and query
	head, query, _ := strings.Cut(rest, "?")

	// Step 3: topic@version, the topic itself never contains '@'
	at := strings.LastIndex(head, "@")
	if at < 0 {
		return nil, ErrMissingVersion
	}
	topic, versionStr := head[:at], head[at+1:]
	if topic == "" {
		return nil, ErrMissingTopic
	}
	if versionStr == "" {
		return nil, ErrMissingVersion
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", versionStr, err)
	}
	if version != VersionLegacy && version != VersionModern {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	// Step 4: query
	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	return &URI{
		Raw:     raw,
		Topic:   topic,
		Version: version,
		Params:  params,
	}, nil
}
