package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps session ids to endpoints using a hash ring.
// The same session always reaches the same endpoint until the endpoint set changes.
//
// Each endpoint is placed on the ring as replicas virtual nodes so that a
// handful of endpoints still split the key space evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
//
// The ring is rebuilt lazily whenever Pick sees a different endpoint list.
type ConsistentHashBalancer struct {
	mu          sync.Mutex
	replicas    int               // Virtual nodes per endpoint
	ring        []uint32          // Sorted hash values on the ring
	nodes       map[uint32]string // Hash value → endpoint URL
	fingerprint string            // Endpoint URLs the ring was built from
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]string),
	}
}

func (b *ConsistentHashBalancer) rebuild(endpoints []Endpoint) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(endpoints)*b.replicas)
	for _, e := range endpoints {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", e.URL, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = e.URL
		}
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick hashes key and walks clockwise to the first virtual node.
func (b *ConsistentHashBalancer) Pick(key string, endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	urls := make([]string, len(endpoints))
	for i, e := range endpoints {
		urls[i] = e.URL
	}
	fingerprint := strings.Join(urls, "\n")

	b.mu.Lock()
	if fingerprint != b.fingerprint {
		b.rebuild(endpoints)
		b.fingerprint = fingerprint
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// Wrap around: past the last node means the first node
	if idx == len(b.ring) {
		idx = 0
	}
	url := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range endpoints {
		if endpoints[i].URL == url {
			return &endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("endpoint %s vanished from ring", url)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
