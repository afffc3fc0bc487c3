package loadbalance

import (
	"fmt"
	"math/rand/v2"
)

type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	// Sum the weights
	totalWeight := 0
	for _, e := range endpoints {
		totalWeight += weightOf(e)
	}

	// Draw in [0, total) and walk until the draw is exhausted
	r := rand.IntN(totalWeight)
	for i := range endpoints {
		r -= weightOf(endpoints[i])
		if r < 0 {
			return &endpoints[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weightOf(e Endpoint) int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}
