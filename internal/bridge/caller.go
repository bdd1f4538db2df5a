package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/surfacekit/uibridge/internal/bus"
	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/metrics"
	"github.com/surfacekit/uibridge/internal/wire"
)

// DefaultCallTimeout applies when a call carries no explicit timeout.
// Configurable once at startup, before any session is mounted.
var DefaultCallTimeout = 30 * time.Second

// SetDefaultCallTimeout overrides the process-wide default. Zero disables
// the implicit timeout.
func SetDefaultCallTimeout(d time.Duration) {
	DefaultCallTimeout = d
}

// CallOption adjusts one call issued through a Caller.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	hasTimeout bool
}

// WithTimeout overrides the per-call timeout. Zero disables the timeout
// entirely.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.hasTimeout = true
	}
}

type settlement struct {
	result json.RawMessage
	err    *Error
}

type pendingCall struct {
	id        uint64
	method    string
	createdAt time.Time
	ch        chan settlement
}

// Caller is the correlation registry for one side that initiates calls. It
// allocates request ids, matches inbound responses to outstanding calls, and
// enforces timeout, cancellation and teardown. Ids are monotonic and never
// reused within the Caller's lifetime.
type Caller struct {
	ep bus.Endpoint

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingCall
	closed  bool
}

// NewCaller binds a correlation registry to an endpoint. The caller does not
// read from the endpoint itself; the owner forwards response deliveries via
// Dispatch.
func NewCaller(ep bus.Endpoint) *Caller {
	return &Caller{ep: ep, pending: make(map[uint64]*pendingCall)}
}

// register allocates the next id and records a pending call. Must precede
// the send so a fast response can never race ahead of bookkeeping.
func (c *Caller) register(method string) (*pendingCall, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &Error{Kind: KindTeardown, Method: method}
	}
	c.nextID++
	pc := &pendingCall{id: c.nextID, method: method, createdAt: time.Now(), ch: make(chan settlement, 1)}
	c.pending[pc.id] = pc
	return pc, nil
}

// take removes and returns the pending call for id. Exactly one settlement
// path obtains the entry; every later path finds nothing and becomes a no-op.
func (c *Caller) take(id uint64) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return pc, ok
}

// Call issues a request and blocks until exactly one settlement path wins:
// a correlated response, the timeout, cancellation of ctx, or teardown.
func (c *Caller) Call(ctx context.Context, method string, params json.RawMessage, opts ...CallOption) (json.RawMessage, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	timeout := DefaultCallTimeout
	if o.hasTimeout {
		timeout = o.timeout
	}

	if c.ep.Peer() == "" {
		return nil, &Error{Kind: KindNoCounterpart, Method: method}
	}
	if ctx.Err() != nil {
		return nil, &Error{Kind: KindAborted, Method: method}
	}

	pc, berr := c.register(method)
	if berr != nil {
		return nil, berr
	}

	metrics.CallStart()
	env := wire.NewRequest(pc.id, method, params)
	if err := c.ep.Send(ctx, env); err != nil {
		if _, ok := c.take(pc.id); !ok {
			// Something settled the call while the send was failing: a
			// teardown sweep, or a response that raced the write error.
			// Whatever landed in the channel wins.
			return c.settle(pc, <-pc.ch)
		}
		metrics.CallEnd("error")
		switch err {
		case bus.ErrNoCounterpart:
			return nil, &Error{Kind: KindNoCounterpart, Method: method}
		case bus.ErrClosed:
			return nil, &Error{Kind: KindTeardown, Method: method}
		default:
			return nil, err
		}
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case s := <-pc.ch:
		return c.settle(pc, s)
	case <-timerC:
		if _, ok := c.take(pc.id); ok {
			s := settlement{err: &Error{Kind: KindTimeout, Method: method, Elapsed: timeout}}
			return c.settle(pc, s)
		}
		return c.settle(pc, <-pc.ch)
	case <-ctx.Done():
		if _, ok := c.take(pc.id); ok {
			s := settlement{err: &Error{Kind: KindAborted, Method: method, Elapsed: time.Since(pc.createdAt)}}
			return c.settle(pc, s)
		}
		return c.settle(pc, <-pc.ch)
	}
}

func (c *Caller) settle(pc *pendingCall, s settlement) (json.RawMessage, error) {
	if s.err != nil {
		metrics.CallEnd(s.err.Kind.String())
		return nil, s.err
	}
	metrics.CallEnd("ok")
	return s.result, nil
}

// Notify sends a one-way envelope. Notifications are never registered for
// correlation and receive no settlement.
func (c *Caller) Notify(ctx context.Context, method string, params json.RawMessage) error {
	if c.ep.Peer() == "" {
		return &Error{Kind: KindNoCounterpart, Method: method}
	}
	return c.ep.Send(ctx, wire.NewNotification(method, params))
}

// Dispatch feeds one inbound delivery to the registry. Envelopes from
// untrusted senders and responses with no matching pending call are
// discarded without any observable reaction; surfacing them would hand a
// forger an oracle.
func (c *Caller) Dispatch(d bus.Delivery) {
	if !bus.TrustedSender(c.ep, d.Origin) {
		metrics.Dropped("untrusted")
		return
	}
	env := d.Env
	if !env.IsResponse() {
		return
	}
	pc, ok := c.take(*env.ID)
	if !ok {
		metrics.Dropped("unmatched")
		logx.Log.Debug().Uint64("id", *env.ID).Msg("bridge: response with no pending call")
		return
	}
	if env.Error != nil {
		pc.ch <- settlement{err: errorFromWire(pc.method, env.Error)}
		return
	}
	pc.ch <- settlement{result: env.Result}
}

// Close sweeps every pending call with a teardown rejection and refuses all
// further calls. Safe to invoke more than once.
func (c *Caller) Close() {
	c.mu.Lock()
	swept := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.closed = true
	c.mu.Unlock()
	for _, pc := range swept {
		pc.ch <- settlement{err: &Error{Kind: KindTeardown, Method: pc.method}}
	}
}
