// Package loadbalance picks which upstream RPC endpoint of the signing
// authority serves a read-only passthrough call.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity public endpoints
//   - WeightedRandom:  mixed providers (e.g. paid node weighted over a public one)
//   - ConsistentHash:  one session sticks to one endpoint, so consecutive reads
//     from a peer observe a single node's view of the chain head
package loadbalance

import (
	"errors"
	"fmt"
)

var ErrNoEndpoints = errors.New("no endpoints available")

// Endpoint is one upstream JSON-RPC URL.
type Endpoint struct {
	URL    string
	Weight int // Relative share for WeightedRandom; values <= 0 count as 1
}

// Balancer is the interface for endpoint selection strategies.
type Balancer interface {
	// Pick selects one endpoint. key identifies the caller (a session id) and
	// is only meaningful to key-affine strategies. Must be goroutine-safe.
	Pick(key string, endpoints []Endpoint) (*Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer for a configured strategy name. Empty means round robin.
func New(strategy string) (Balancer, error) {
	switch strategy {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted":
		return &WeightedRandomBalancer{}, nil
	case "sticky":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("unknown balancing strategy %q", strategy)
	}
}
