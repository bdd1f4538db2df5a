package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/surfacekit/uibridge/internal/bus"
	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/metrics"
	"github.com/surfacekit/uibridge/internal/wire"
)

// Handler serves one built-in method. A returned *wire.ErrorObject crosses
// the channel verbatim; any other error is wrapped with a generic internal
// code.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Request is the call context handed to the fallback handler.
type Request struct {
	Method string
	Params json.RawMessage
	Origin string
}

// Fallback is the single user-supplied catch-all for methods outside the
// built-in set.
type Fallback func(ctx context.Context, req Request) (json.RawMessage, error)

// NotifyFunc observes inbound one-way notifications from the peer.
type NotifyFunc func(method string, params json.RawMessage)

// HandlerTable is an immutable snapshot of the routing surface. Swapping a
// table never affects invocations already dispatched against the previous
// snapshot.
type HandlerTable struct {
	builtins map[string]Handler
	fallback Fallback
	notify   NotifyFunc
}

// NewHandlerTable builds a snapshot. The builtins map is copied; later
// mutation of the argument has no effect.
func NewHandlerTable(builtins map[string]Handler, fallback Fallback, notify NotifyFunc) *HandlerTable {
	copied := make(map[string]Handler, len(builtins))
	for m, h := range builtins {
		copied[m] = h
	}
	return &HandlerTable{builtins: copied, fallback: fallback, notify: notify}
}

// Router receives inbound requests, resolves each against the current
// handler table, and emits exactly one response per request. Invocations are
// not serialized against each other; each response is matched to its request
// solely by id.
type Router struct {
	ep    bus.Endpoint
	table atomic.Pointer[HandlerTable]
}

// NewRouter binds a router to an endpoint with an initial handler table.
func NewRouter(ep bus.Endpoint, table *HandlerTable) *Router {
	r := &Router{ep: ep}
	if table == nil {
		table = NewHandlerTable(nil, nil, nil)
	}
	r.table.Store(table)
	return r
}

// Swap replaces the handler table wholesale. In-flight invocations keep the
// snapshot they were dispatched against.
func (r *Router) Swap(table *HandlerTable) {
	if table == nil {
		table = NewHandlerTable(nil, nil, nil)
	}
	r.table.Store(table)
}

// Handle routes one inbound delivery. Requests are served on their own
// goroutine; notifications invoke the table's notify callback and get no
// response. Deliveries from untrusted senders are discarded silently.
func (r *Router) Handle(ctx context.Context, d bus.Delivery) {
	if !bus.TrustedSender(r.ep, d.Origin) {
		metrics.Dropped("untrusted")
		return
	}
	env := d.Env
	switch {
	case env.IsNotification():
		if t := r.table.Load(); t.notify != nil {
			t.notify(env.Method, env.Params)
		}
	case env.IsRequest():
		table := r.table.Load()
		go r.serve(ctx, table, env, d.Origin)
	}
}

func (r *Router) serve(ctx context.Context, table *HandlerTable, env wire.Envelope, origin string) {
	id := *env.ID
	result, err := r.invoke(ctx, table, env, origin)
	var resp wire.Envelope
	switch {
	case err == nil:
		resp = wire.NewResult(id, result)
	default:
		var eo *wire.ErrorObject
		if errors.As(err, &eo) {
			resp = wire.NewError(id, eo.Code, eo.Message, eo.Data)
		} else {
			resp = wire.NewError(id, wire.CodeInternal, err.Error(), nil)
		}
	}
	if err := r.ep.Send(ctx, resp); err != nil {
		logx.Log.Debug().Err(err).Str("method", env.Method).Msg("bridge: response send failed")
	}
}

// invoke resolves and runs the handler, converting panics into errors so a
// misbehaving handler can never escape the router boundary.
func (r *Router) invoke(ctx context.Context, table *HandlerTable, env wire.Envelope, origin string) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	if h, ok := table.builtins[env.Method]; ok && wire.IsBuiltin(env.Method) {
		metrics.Routed("builtin")
		return h(ctx, env.Params)
	}
	if table.fallback != nil {
		metrics.Routed("fallback")
		return table.fallback(ctx, Request{Method: env.Method, Params: env.Params, Origin: origin})
	}
	metrics.Routed("not_found")
	return nil, &wire.ErrorObject{Code: wire.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", env.Method)}
}
