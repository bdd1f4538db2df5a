package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/surfacekit/uibridge/internal/bus"
	"github.com/surfacekit/uibridge/internal/wire"
)

// respondingEndpoint captures responses on a channel so tests can await them.
type respondingEndpoint struct {
	peer string
	out  chan wire.Envelope
	recv chan bus.Delivery
}

func newRespondingEndpoint(peer string) *respondingEndpoint {
	return &respondingEndpoint{peer: peer, out: make(chan wire.Envelope, 16), recv: make(chan bus.Delivery, 16)}
}

func (r *respondingEndpoint) Send(_ context.Context, env wire.Envelope) error {
	r.out <- env
	return nil
}
func (r *respondingEndpoint) Recv() <-chan bus.Delivery { return r.recv }
func (r *respondingEndpoint) Origin() string            { return "host" }
func (r *respondingEndpoint) Peer() string              { return r.peer }
func (r *respondingEndpoint) Close() error              { return nil }

func (r *respondingEndpoint) awaitResponse(t *testing.T) wire.Envelope {
	t.Helper()
	select {
	case env := <-r.out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("router never responded")
		return wire.Envelope{}
	}
}

func request(id uint64, method string, params json.RawMessage) bus.Delivery {
	return bus.Delivery{Env: wire.NewRequest(id, method, params), Origin: "guest"}
}

func TestRouterBuiltinDispatch(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	builtins := map[string]Handler{
		wire.MethodResourcesList: func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"resources":[]}`), nil
		},
	}
	r := NewRouter(ep, NewHandlerTable(builtins, nil, nil))
	r.Handle(context.Background(), request(1, wire.MethodResourcesList, nil))
	env := ep.awaitResponse(t)
	if env.Error != nil || string(env.Result) != `{"resources":[]}` {
		t.Fatalf("unexpected response: %+v", env)
	}
	if *env.ID != 1 {
		t.Fatalf("response id mismatch: %d", *env.ID)
	}
}

func TestRouterFallbackForUnknownMethod(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		if req.Method != "x/clipboard/write" || string(req.Params) != `{"text":"hello"}` {
			t.Errorf("fallback got wrong request: %+v", req)
		}
		if req.Origin != "guest" {
			t.Errorf("fallback missing call context origin: %q", req.Origin)
		}
		return json.RawMessage(`{"success":true}`), nil
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), request(2, "x/clipboard/write", json.RawMessage(`{"text":"hello"}`)))
	env := ep.awaitResponse(t)
	if string(env.Result) != `{"success":true}` {
		t.Fatalf("unexpected response: %+v", env)
	}
}

func TestRouterMethodNotFound(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	r := NewRouter(ep, nil)
	r.Handle(context.Background(), request(3, "x/unknown", nil))
	env := ep.awaitResponse(t)
	if env.Error == nil || env.Error.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", env)
	}
	if !strings.Contains(env.Error.Message, "x/unknown") {
		t.Fatalf("error should name the method: %s", env.Error.Message)
	}
}

func TestRouterBuiltinMethodWithoutHandlerFallsBack(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		return json.RawMessage(`{"via":"fallback"}`), nil
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), request(4, wire.MethodPromptsList, nil))
	env := ep.awaitResponse(t)
	if string(env.Result) != `{"via":"fallback"}` {
		t.Fatalf("unexpected response: %+v", env)
	}
}

func TestRouterPreservesStructuredHandlerError(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		return nil, &wire.ErrorObject{Code: wire.CodeHandler, Message: "denied", Data: json.RawMessage(`{"reason":"policy"}`)}
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), request(5, "x/secret", nil))
	env := ep.awaitResponse(t)
	if env.Error == nil || env.Error.Code != wire.CodeHandler || env.Error.Message != "denied" {
		t.Fatalf("structured error not preserved: %+v", env)
	}
	if string(env.Error.Data) != `{"reason":"policy"}` {
		t.Fatalf("error data lost: %s", env.Error.Data)
	}
}

func TestRouterWrapsPlainHandlerError(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), request(6, "x/boom", nil))
	env := ep.awaitResponse(t)
	if env.Error == nil || env.Error.Code != wire.CodeInternal {
		t.Fatalf("expected internal wrap, got %+v", env)
	}
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		panic("handler exploded")
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), request(7, "x/panic", nil))
	env := ep.awaitResponse(t)
	if env.Error == nil || env.Error.Code != wire.CodeInternal {
		t.Fatalf("panic must become an internal error envelope, got %+v", env)
	}
	if !strings.Contains(env.Error.Message, "handler exploded") {
		t.Fatalf("panic detail lost: %s", env.Error.Message)
	}
}

func TestRouterNotificationGetsNoResponse(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	got := make(chan string, 1)
	notify := func(method string, params json.RawMessage) { got <- method }
	r := NewRouter(ep, NewHandlerTable(nil, nil, notify))
	r.Handle(context.Background(), bus.Delivery{Env: wire.NewNotification(wire.NotifyGuestReady, nil), Origin: "guest"})
	select {
	case m := <-got:
		if m != wire.NotifyGuestReady {
			t.Fatalf("wrong notification: %s", m)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never observed")
	}
	select {
	case env := <-ep.out:
		t.Fatalf("notification must not produce a response: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterDropsUntrustedRequests(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), bus.Delivery{Env: wire.NewRequest(8, "x/any", nil), Origin: "intruder"})
	select {
	case env := <-ep.out:
		t.Fatalf("untrusted request must not be served: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterResponsesCompleteOutOfOrder(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	release := make(chan struct{})
	fallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		if req.Method == "x/slow" {
			<-release
		}
		return json.RawMessage(`{"m":"` + req.Method + `"}`), nil
	}
	r := NewRouter(ep, NewHandlerTable(nil, fallback, nil))
	r.Handle(context.Background(), request(10, "x/slow", nil))
	r.Handle(context.Background(), request(11, "x/fast", nil))

	first := ep.awaitResponse(t)
	if *first.ID != 11 {
		t.Fatalf("fast request should respond first, got id %d", *first.ID)
	}
	close(release)
	second := ep.awaitResponse(t)
	if *second.ID != 10 {
		t.Fatalf("slow request should respond second, got id %d", *second.ID)
	}
}

func TestRouterSwapDoesNotInterruptInflight(t *testing.T) {
	ep := newRespondingEndpoint("guest")
	started := make(chan struct{})
	release := make(chan struct{})
	oldFallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"table":"old"}`), nil
	}
	r := NewRouter(ep, NewHandlerTable(nil, oldFallback, nil))
	r.Handle(context.Background(), request(20, "x/inflight", nil))
	<-started

	// Swap while the old handler is mid-flight.
	newFallback := func(ctx context.Context, req Request) (json.RawMessage, error) {
		return json.RawMessage(`{"table":"new"}`), nil
	}
	r.Swap(NewHandlerTable(nil, newFallback, nil))
	close(release)
	env := ep.awaitResponse(t)
	if string(env.Result) != `{"table":"old"}` {
		t.Fatalf("in-flight invocation lost its snapshot: %s", env.Result)
	}

	r.Handle(context.Background(), request(21, "x/after", nil))
	env = ep.awaitResponse(t)
	if string(env.Result) != `{"table":"new"}` {
		t.Fatalf("swap not effective for new requests: %s", env.Result)
	}
}
