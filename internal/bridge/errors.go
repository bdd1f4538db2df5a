package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/surfacekit/uibridge/internal/wire"
)

// Kind classifies every caller-visible failure of a bridge call.
type Kind int

const (
	// KindTimeout marks a call that exceeded its per-call budget.
	KindTimeout Kind = iota + 1
	// KindAborted marks a call cancelled by the caller's context, whether
	// before or during flight.
	KindAborted
	// KindNoCounterpart marks a call issued on an endpoint that was never
	// attached to a peer. Nothing is sent.
	KindNoCounterpart
	// KindMethodNotFound mirrors a method-not-found error envelope from the
	// remote side.
	KindMethodNotFound
	// KindHandlerFailure mirrors a structured error envelope produced by a
	// remote handler.
	KindHandlerFailure
	// KindTeardown marks a call swept when its session ended.
	KindTeardown
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAborted:
		return "aborted"
	case KindNoCounterpart:
		return "no_counterpart"
	case KindMethodNotFound:
		return "method_not_found"
	case KindHandlerFailure:
		return "handler_failure"
	case KindTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Error is the rejection carried by every failed call. Code, Message and
// Data are populated when the failure mirrors a wire error envelope.
type Error struct {
	Kind    Kind
	Method  string
	Elapsed time.Duration
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("bridge: call %q timed out after %s", e.Method, e.Elapsed)
	case KindAborted:
		return fmt.Sprintf("bridge: call %q aborted", e.Method)
	case KindNoCounterpart:
		return fmt.Sprintf("bridge: call %q issued with no counterpart attached", e.Method)
	case KindTeardown:
		return fmt.Sprintf("bridge: call %q rejected by session teardown", e.Method)
	default:
		return fmt.Sprintf("bridge: call %q failed: %d %s", e.Method, e.Code, e.Message)
	}
}

// errorFromWire converts a wire error object into a caller-visible Error.
// Built-in and fallback failures share the same wire shape, so the kind is
// derived from the code alone.
func errorFromWire(method string, eo *wire.ErrorObject) *Error {
	kind := KindHandlerFailure
	if eo.Code == wire.CodeMethodNotFound {
		kind = KindMethodNotFound
	}
	return &Error{Kind: kind, Method: method, Code: eo.Code, Message: eo.Message, Data: eo.Data}
}
