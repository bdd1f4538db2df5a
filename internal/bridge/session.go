package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/surfacekit/uibridge/internal/bus"
	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/metrics"
	"github.com/surfacekit/uibridge/internal/uires"
	"github.com/surfacekit/uibridge/internal/wire"
)

// State is the lifecycle position of a Session. Transitions only ever move
// forward; Detached is terminal.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateAttached
	StateTearingDown
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAttached:
		return "attached"
	case StateTearingDown:
		return "tearing_down"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// ErrDetached is returned for operations on a session past teardown.
var ErrDetached = errors.New("bridge: session detached")

// ErrMounted is returned when Mount is invoked twice. A remount always means
// a new Session; no state crosses the boundary.
var ErrMounted = errors.New("bridge: session already mounted")

// ContentResolver reads a ui:// resource when the mount payload references
// one instead of carrying it inline. Backed by the external catalog; its
// failures surface through the session's error callback.
type ContentResolver interface {
	ReadResource(ctx context.Context, uri string) (uires.Resource, error)
}

// MountConfig carries everything a session needs to attach.
type MountConfig struct {
	// Endpoint is the channel to the guest. Required.
	Endpoint bus.Endpoint
	// Content is the UI payload to mount: inline, or a URI resolved through
	// Resolver.
	Content uires.Content
	// Resolver is consulted only when Content carries a URI.
	Resolver ContentResolver
	// Builtins seeds the handler table; methods outside the fixed built-in
	// set are ignored by routing.
	Builtins map[string]Handler
	// Fallback is the single catch-all for non-built-in methods.
	Fallback Fallback
	// OnNotify observes one-way notifications from the guest.
	OnNotify NotifyFunc
	// OnError is invoked at most once per distinct initialization failure.
	OnError func(error)
}

// Session owns one channel endpoint, one correlation registry and one
// router for the lifetime of one mounted UI surface. All owned state dies
// with the session; a rebuilt surface starts a fresh Session.
type Session struct {
	id  string
	log zerolog.Logger

	mu      sync.Mutex
	state   State
	queue   []wire.Envelope
	ep      bus.Endpoint
	caller  *Caller
	router  *Router
	content uires.Resource
	onError func(error)

	recvDone chan struct{}
}

// NewSession creates a session in the Uninitialized state.
func NewSession() *Session {
	id := uuid.NewString()
	return &Session{id: id, log: logx.With("session").With().Str("id", id).Logger()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the receive loop ends, which happens
// when the endpoint is gone. Nil before Mount.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvDone
}

// Resource returns the mounted UI payload. Valid once Attached.
func (s *Session) Resource() uires.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Mount drives Uninitialized → Initializing → Attached: resolves the content
// payload, binds the endpoint, registers handlers, starts the receive loop
// and flushes any host pushes queued before attachment. On failure the
// session lands in Detached and the error callback fires once.
func (s *Session) Mount(ctx context.Context, cfg MountConfig) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrMounted
	}
	if cfg.Endpoint == nil {
		s.state = StateDetached
		s.mu.Unlock()
		return errors.New("bridge: mount without endpoint")
	}
	s.state = StateInitializing
	s.onError = cfg.OnError
	s.mu.Unlock()

	res, err := s.resolveContent(ctx, cfg)
	if err != nil {
		s.failInit(fmt.Errorf("bridge: resolving content: %w", err))
		return err
	}

	table := NewHandlerTable(cfg.Builtins, cfg.Fallback, cfg.OnNotify)

	s.mu.Lock()
	if s.state != StateInitializing {
		// Torn down while the content was resolving. Detached is terminal;
		// never attach over it.
		s.mu.Unlock()
		_ = cfg.Endpoint.Close()
		return ErrDetached
	}
	s.ep = cfg.Endpoint
	s.caller = NewCaller(cfg.Endpoint)
	s.router = NewRouter(cfg.Endpoint, table)
	s.content = res
	s.state = StateAttached
	queued := s.queue
	s.queue = nil
	s.recvDone = make(chan struct{})
	s.mu.Unlock()

	go s.recvLoop()

	for _, env := range queued {
		if err := cfg.Endpoint.Send(ctx, env); err != nil {
			s.log.Debug().Err(err).Str("method", env.Method).Msg("queued push lost")
		}
	}

	metrics.SessionAttached()
	s.log.Info().Str("uri", res.URI).Str("mime", res.MIMEType).Msg("session attached")
	return nil
}

func (s *Session) resolveContent(ctx context.Context, cfg MountConfig) (uires.Resource, error) {
	if cfg.Content.Resource != nil {
		return *cfg.Content.Resource, nil
	}
	if cfg.Content.URI == "" {
		return uires.Resource{}, errors.New("no content payload resolvable")
	}
	if cfg.Resolver == nil {
		return uires.Resource{}, errors.New("content URI given but no resolver configured")
	}
	return cfg.Resolver.ReadResource(ctx, cfg.Content.URI)
}

func (s *Session) failInit(err error) {
	s.mu.Lock()
	s.state = StateDetached
	cb := s.onError
	s.onError = nil
	s.mu.Unlock()
	s.log.Error().Err(err).Msg("session initialization failed")
	if cb != nil {
		cb(err)
	}
}

// recvLoop feeds deliveries to the registry and router until the endpoint
// closes. Responses settle the caller's pending set; requests and
// notifications go to the router.
func (s *Session) recvLoop() {
	defer close(s.recvDone)
	// An endpoint that dies under us is a teardown for anything pending.
	defer s.caller.Close()
	ctx := context.Background()
	for d := range s.ep.Recv() {
		if d.Env.IsResponse() {
			s.caller.Dispatch(d)
			continue
		}
		s.router.Handle(ctx, d)
	}
}

// push sends a one-way notification while Attached; before attachment the
// envelope is queued and flushed on attach. Past teardown it is an error.
func (s *Session) push(ctx context.Context, method string, params json.RawMessage) error {
	env := wire.NewNotification(method, params)
	s.mu.Lock()
	switch s.state {
	case StateUninitialized, StateInitializing:
		s.queue = append(s.queue, env)
		s.mu.Unlock()
		return nil
	case StateAttached:
		ep := s.ep
		s.mu.Unlock()
		return ep.Send(ctx, env)
	default:
		s.mu.Unlock()
		return ErrDetached
	}
}

// UpdateContext forwards a host context change to the guest.
func (s *Session) UpdateContext(ctx context.Context, params json.RawMessage) error {
	return s.push(ctx, wire.NotifyContextChanged, params)
}

// StreamInput forwards one chunk of partial user input.
func (s *Session) StreamInput(ctx context.Context, params json.RawMessage) error {
	return s.push(ctx, wire.NotifyInputPartial, params)
}

// Cancel notifies the guest that the host cancelled the surrounding
// operation. No acknowledgement is awaited.
func (s *Session) Cancel(ctx context.Context, params json.RawMessage) error {
	return s.push(ctx, wire.NotifyCancelled, params)
}

// NotifyChanged signals a catalog list change (one of the
// notifications/host/*-changed methods).
func (s *Session) NotifyChanged(ctx context.Context, method string) error {
	switch method {
	case wire.NotifyToolsChanged, wire.NotifyResourcesChanged, wire.NotifyPromptsChanged:
		return s.push(ctx, method, nil)
	default:
		return fmt.Errorf("bridge: %q is not a list-changed notification", method)
	}
}

// SwapHandlers replaces the handler table wholesale without leaving
// Attached. In-flight invocations finish against their dispatched snapshot.
func (s *Session) SwapHandlers(builtins map[string]Handler, fallback Fallback, notify NotifyFunc) {
	s.mu.Lock()
	router := s.router
	s.mu.Unlock()
	if router != nil {
		router.Swap(NewHandlerTable(builtins, fallback, notify))
	}
}

// Call issues a request toward the guest through the session's own
// correlation registry.
func (s *Session) Call(ctx context.Context, method string, params json.RawMessage, opts ...CallOption) (json.RawMessage, error) {
	s.mu.Lock()
	caller := s.caller
	state := s.state
	s.mu.Unlock()
	switch {
	case caller != nil && (state == StateTearingDown || state == StateDetached):
		return nil, &Error{Kind: KindTeardown, Method: method}
	case caller == nil || state != StateAttached:
		return nil, &Error{Kind: KindNoCounterpart, Method: method}
	}
	return caller.Call(ctx, method, params, opts...)
}

// Teardown drives the session to Detached: a single best-effort teardown
// notification, a sweep of every pending call with a teardown rejection, and
// release of the endpoint. Idempotent; tearing down with nothing pending
// only releases resources.
func (s *Session) Teardown(ctx context.Context) {
	s.mu.Lock()
	switch s.state {
	case StateDetached, StateTearingDown:
		s.mu.Unlock()
		return
	case StateUninitialized, StateInitializing:
		s.state = StateDetached
		s.mu.Unlock()
		return
	}
	s.state = StateTearingDown
	ep := s.ep
	caller := s.caller
	recvDone := s.recvDone
	s.mu.Unlock()

	// Best effort: no response awaited, no error surfaced if delivery is
	// impossible.
	sendCtx, cancel := context.WithTimeout(ctx, time.Second)
	_ = ep.Send(sendCtx, wire.NewNotification(wire.NotifyTeardown, nil))
	cancel()

	caller.Close()
	_ = ep.Close()
	<-recvDone

	s.mu.Lock()
	s.state = StateDetached
	s.mu.Unlock()
	metrics.SessionDetached()
	s.log.Info().Msg("session detached")
}
