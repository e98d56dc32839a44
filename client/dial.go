package client

import (
	"context"
	"errors"
	"fmt"

	"wc-rpc/loadbalance"
	"wc-rpc/transport"
)

// DialRelay connects to a relay chosen by bal. An endpoint that fails to
// dial is dropped and bal picks again from the rest, until one answers or
// none are left.
func DialRelay(ctx context.Context, endpoints []loadbalance.Endpoint, bal loadbalance.Balancer, key string, opts transport.WebSocketOptions) (*transport.WebSocket, loadbalance.Endpoint, error) {
	remaining := append([]loadbalance.Endpoint(nil), endpoints...)
	var errs []error
	for len(remaining) > 0 {
		ep, err := bal.Pick(remaining, key)
		if err != nil {
			return nil, loadbalance.Endpoint{}, err
		}
		chosen := *ep
		ws, err := transport.DialWebSocket(ctx, chosen.URL, opts)
		if err == nil {
			return ws, chosen, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", chosen.URL, err))
		if ctx.Err() != nil {
			break
		}
		remaining = without(remaining, chosen.URL)
	}
	if len(errs) == 0 {
		return nil, loadbalance.Endpoint{}, loadbalance.ErrNoEndpoints
	}
	return nil, loadbalance.Endpoint{}, errors.Join(errs...)
}

func without(endpoints []loadbalance.Endpoint, url string) []loadbalance.Endpoint {
	out := endpoints[:0]
	for _, ep := range endpoints {
		if ep.URL != url {
			out = append(out, ep)
		}
	}
	return out
}
