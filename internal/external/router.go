package external

import (
	"context"
	"fmt"

	"herald/internal/types"
)

// Router dispatches each message to the provider registered for its channel.
type Router struct {
	providers map[types.Channel]Provider
}

var _ Provider = (*Router)(nil)

// NewRouter builds a router from a channel to provider map.
func NewRouter(providers map[types.Channel]Provider) *Router {
	cp := make(map[types.Channel]Provider, len(providers))
	for ch, p := range providers {
		cp[ch] = p
	}
	return &Router{providers: cp}
}

// Send routes msg by channel. An unrouted channel is a permanent failure.
func (r *Router) Send(ctx context.Context, msg Message) (string, error) {
	p, ok := r.providers[msg.Channel]
	if !ok {
		return "", Permanent("router", fmt.Errorf("no provider configured for channel %q", msg.Channel))
	}
	return p.Send(ctx, msg)
}
