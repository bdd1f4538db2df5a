package bridge

import (
	"context"
	"encoding/json"

	"github.com/surfacekit/uibridge/internal/bus"
)

// Guest binds the guest's side of a channel: a correlation registry for
// calls it initiates toward the host, plus a callback for notifications the
// host pushes at it. Host-initiated requests are not part of the protocol
// and are ignored.
type Guest struct {
	ep     bus.Endpoint
	caller *Caller
	done   chan struct{}
}

// NewGuest wraps an endpoint. onNotify may be nil.
func NewGuest(ep bus.Endpoint, onNotify NotifyFunc) *Guest {
	g := &Guest{ep: ep, caller: NewCaller(ep), done: make(chan struct{})}
	go func() {
		defer close(g.done)
		// Channel teardown settles whatever is still pending.
		defer g.caller.Close()
		for d := range ep.Recv() {
			switch {
			case d.Env.IsResponse():
				g.caller.Dispatch(d)
			case d.Env.IsNotification():
				if onNotify != nil && bus.TrustedSender(ep, d.Origin) {
					onNotify(d.Env.Method, d.Env.Params)
				}
			}
		}
	}()
	return g
}

// Call issues a request toward the host and waits for its settlement.
func (g *Guest) Call(ctx context.Context, method string, params json.RawMessage, opts ...CallOption) (json.RawMessage, error) {
	return g.caller.Call(ctx, method, params, opts...)
}

// Notify sends a one-way notification toward the host.
func (g *Guest) Notify(ctx context.Context, method string, params json.RawMessage) error {
	return g.caller.Notify(ctx, method, params)
}

// Close sweeps any outstanding calls and releases the endpoint.
func (g *Guest) Close() {
	g.caller.Close()
	_ = g.ep.Close()
	<-g.done
}
