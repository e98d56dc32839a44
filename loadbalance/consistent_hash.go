package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps client keys to endpoints using a hash ring,
// so a client reconnects to the relay that already holds its
// subscriptions until the endpoint list changes.
//
// Each endpoint is placed on the ring as many virtual nodes so that a
// handful of relays still split the key space evenly.
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
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string   // endpoint URLs the ring was built from
	ring      []uint32 // sorted hash values
	nodes     map[uint32]int
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Pick hashes key and returns the first endpoint clockwise from it.
func (b *ConsistentHashBalancer) Pick(endpoints []Endpoint, key string) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	b.mu.Lock()
	b.rebuild(endpoints)
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	node := b.nodes[b.ring[idx]]
	b.mu.Unlock()
	return &endpoints[node], nil
}

// rebuild recomputes the ring when the endpoint list differs from the one
// it was built for. Callers hold b.mu.
func (b *ConsistentHashBalancer) rebuild(endpoints []Endpoint) {
	urls := make([]string, len(endpoints))
	for i, ep := range endpoints {
		urls[i] = ep.URL
	}
	signature := strings.Join(urls, "\n")
	if signature == b.signature && b.nodes != nil {
		return
	}

	b.signature = signature
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]int, len(endpoints)*b.replicas)
	for i, url := range urls {
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", url, r)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = i
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
