// Package bus abstracts the message-passing primitive under the bridge: an
// asynchronous, sender-identified channel that preserves per-direction
// ordering but guarantees nothing else. Implementations exist for in-process
// pairs and websocket connections; both carry wire envelopes.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/surfacekit/uibridge/internal/wire"
)

// ErrNoCounterpart is returned by Send when the endpoint was never attached
// to a peer. The bridge rejects calls on such endpoints without transmitting.
var ErrNoCounterpart = errors.New("bus: no counterpart attached")

// ErrClosed is returned by Send after the endpoint has been closed.
var ErrClosed = errors.New("bus: endpoint closed")

// Delivery is one inbound envelope together with the transport-level
// identity of its sender.
type Delivery struct {
	Env    wire.Envelope
	Origin string
}

// Endpoint is one side of a logical channel. Send is fire-and-forget: a nil
// return means the envelope was handed to the transport, not that it
// arrived. Recv yields deliveries in the order the peer sent them; the
// channel is closed when the endpoint closes.
type Endpoint interface {
	Send(ctx context.Context, env wire.Envelope) error
	Recv() <-chan Delivery
	Origin() string
	Peer() string
	Close() error
}

// TrustedSender reports whether origin matches the single counterpart the
// endpoint was bound to. Deliveries failing this check are dropped by the
// bridge without any observable reaction.
func TrustedSender(ep Endpoint, origin string) bool {
	peer := ep.Peer()
	return peer != "" && origin == peer
}

// Detached returns an endpoint with no counterpart. Send always fails with
// ErrNoCounterpart and Recv never yields. It models a surface hosted outside
// of any guest context.
func Detached(origin string) Endpoint {
	return &detached{origin: origin, recv: make(chan Delivery)}
}

type detached struct {
	origin string
	recv   chan Delivery
	once   sync.Once
}

func (d *detached) Send(context.Context, wire.Envelope) error { return ErrNoCounterpart }
func (d *detached) Recv() <-chan Delivery                     { return d.recv }
func (d *detached) Origin() string                            { return d.origin }
func (d *detached) Peer() string                              { return "" }
func (d *detached) Close() error {
	d.once.Do(func() { close(d.recv) })
	return nil
}
