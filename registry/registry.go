// Package registry lets relays announce where they can be reached and lets
// peers find them.
package registry

import (
	"context"

	"wc-rpc/loadbalance"
)

type Registry interface {
	// Register announces ep for as long as ctx lives. ttl bounds how long
	// the entry outlives a crashed announcer.
	Register(ctx context.Context, ep loadbalance.Endpoint, ttl int64) error
	Deregister(ctx context.Context, url string) error
	Discover(ctx context.Context) ([]loadbalance.Endpoint, error)
	// Watch emits the full endpoint list after every change until ctx is
	// done.
	Watch(ctx context.Context) <-chan []loadbalance.Endpoint
}
