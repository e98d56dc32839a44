package loadbalance

import (
	"errors"
	"fmt"
	"testing"
)

var testEndpoints = []Endpoint{
	{URL: "wss://relay-a.example", Weight: 10},
	{URL: "wss://relay-b.example", Weight: 5},
	{URL: "wss://relay-c.example", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all endpoints
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		ep, err := b.Pick(testEndpoints, "")
		if err != nil {
			t.Fatal(err)
		}
		results[i] = ep.URL
	}
	if results[0] != testEndpoints[0].URL || results[2] != testEndpoints[2].URL {
		t.Fatalf("expect endpoints in order, got %v", results)
	}

	// Pick again, should wrap around to first
	ep, _ := b.Pick(testEndpoints, "")
	if ep.URL != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], ep.URL)
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick(nil, "k"); !errors.Is(err, ErrNoEndpoints) {
			t.Fatalf("%s: expect ErrNoEndpoints, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		ep, err := b.Pick(testEndpoints, "")
		if err != nil {
			t.Fatal(err)
		}
		counts[ep.URL]++
	}

	// Weight ratio is 10:5:10, so a and c should be ~2x of b
	ratio := float64(counts["wss://relay-a.example"]) / float64(counts["wss://relay-b.example"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio a/b = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	ep, err := b.Pick([]Endpoint{{URL: "wss://only.example"}}, "")
	if err != nil || ep.URL != "wss://only.example" {
		t.Fatalf("expect the only endpoint, got %v (%v)", ep, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same endpoint
	ep1, _ := b.Pick(testEndpoints, "client-123")
	ep2, _ := b.Pick(testEndpoints, "client-123")
	if ep1.URL != ep2.URL {
		t.Fatalf("same key mapped to different endpoints: %s vs %s", ep1.URL, ep2.URL)
	}

	// Different keys should (likely) map to different endpoints
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, _ := b.Pick(testEndpoints, fmt.Sprintf("key-%d", i))
		seen[ep.URL] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different endpoints, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	b.Pick(testEndpoints, "k")

	only := []Endpoint{{URL: "wss://relay-z.example"}}
	ep, err := b.Pick(only, "k")
	if err != nil || ep.URL != "wss://relay-z.example" {
		t.Fatalf("expect ring rebuilt for new endpoints, got %v (%v)", ep, err)
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	} {
		b, err := New(name)
		if err != nil || b.Name() != want {
			t.Fatalf("%q: expect %s, got %v (%v)", name, want, b, err)
		}
	}
	if _, err := New("fastest"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
