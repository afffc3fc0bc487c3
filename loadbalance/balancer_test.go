package loadbalance

import (
	"errors"
	"fmt"
	"testing"
)

var testEndpoints = []Endpoint{
	{URL: "https://rpc-a.example", Weight: 10},
	{URL: "https://rpc-b.example", Weight: 5},
	{URL: "https://rpc-c.example", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all endpoints
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		e, err := b.Pick("", testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = e.URL
	}
	if results[0] != testEndpoints[0].URL || results[2] != testEndpoints[2].URL {
		t.Fatalf("expect endpoints in order, got %v", results)
	}

	// Pick again, should wrap around to first
	e, _ := b.Pick("", testEndpoints)
	if e.URL != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], e.URL)
	}
}

func TestEmptyEndpoints(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick("k", nil); !errors.Is(err, ErrNoEndpoints) {
			t.Fatalf("%s: expect ErrNoEndpoints, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		e, err := b.Pick("", testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		counts[e.URL]++
	}

	// Weight ratio is 10:5:10, so a and c should be ~2x of b
	ratio := float64(counts["https://rpc-a.example"]) / float64(counts["https://rpc-b.example"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio a/b = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	e, err := b.Pick("", []Endpoint{{URL: "only"}})
	if err != nil || e.URL != "only" {
		t.Fatalf("zero weight must count as 1: %v %v", e, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same endpoint
	e1, _ := b.Pick("topic-123", testEndpoints)
	e2, _ := b.Pick("topic-123", testEndpoints)
	if e1.URL != e2.URL {
		t.Fatalf("same key mapped to different endpoints: %s vs %s", e1.URL, e2.URL)
	}

	// Different keys should (likely) map to different endpoints
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		e, _ := b.Pick(fmt.Sprintf("key-%d", i), testEndpoints)
		seen[e.URL] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different endpoints, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	b.Pick("k", testEndpoints)

	only := []Endpoint{{URL: "https://rpc-z.example"}}
	e, err := b.Pick("k", only)
	if err != nil {
		t.Fatal(err)
	}
	if e.URL != "https://rpc-z.example" {
		t.Fatalf("ring must follow the new endpoint set, got %s", e.URL)
	}
}

func TestNew(t *testing.T) {
	cases := map[string]string{"": "RoundRobin", "roundrobin": "RoundRobin", "weighted": "WeightedRandom", "sticky": "ConsistentHash"}
	for strategy, want := range cases {
		b, err := New(strategy)
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != want {
			t.Errorf("New(%q) = %s, want %s", strategy, b.Name(), want)
		}
	}
	if _, err := New("fastest"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
