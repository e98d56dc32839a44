// Package loadbalance picks the relay endpoint a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity relays, one after another
//   - WeightedRandom:  relays of different capacity
//   - ConsistentHash:  the same client key keeps landing on the same relay
package loadbalance

import (
	"errors"
	"fmt"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Endpoint is a relay the client may dial.
type Endpoint struct {
	URL    string `toml:"url" json:"url"`
	Weight int    `toml:"weight" json:"weight"`
}

// Balancer is the interface for load balancing strategies.
// Pick is called before every dial and must be goroutine-safe.
type Balancer interface {
	// Pick selects one endpoint. key identifies the client; strategies
	// that do not need affinity ignore it.
	Pick(endpoints []Endpoint, key string) (*Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
