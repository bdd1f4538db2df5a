// Package wire defines the JSON-RPC 2.0 envelope exchanged between a host
// and its guest surface. The envelope is the only unit that ever crosses the
// channel; everything above it (correlation, routing, lifecycle) is built in
// internal/bridge.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the protocol identifier carried by every envelope.
const Version = "2.0"

// JSON-RPC error codes used on response envelopes. Handler failures that
// already carry a structured code keep it; everything else is wrapped.
const (
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
	CodeHandler        = -32000
)

// ErrorObject is the structured error member of a failed response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Envelope is one message unit. Requests carry Method and a non-nil ID;
// notifications carry Method with a nil ID; responses carry exactly one of
// Result or Error.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewRequest builds a request envelope. Params may be nil, in which case the
// params member is omitted entirely from the wire form.
func NewRequest(id uint64, method string, params json.RawMessage) Envelope {
	return Envelope{JSONRPC: Version, ID: &id, Method: method, Params: params}
}

// NewNotification builds a one-way envelope with no correlation id.
func NewNotification(method string, params json.RawMessage) Envelope {
	return Envelope{JSONRPC: Version, Method: method, Params: params}
}

// NewResult builds a success response for the given request id.
func NewResult(id uint64, result json.RawMessage) Envelope {
	if result == nil {
		result = json.RawMessage(`null`)
	}
	return Envelope{JSONRPC: Version, ID: &id, Result: result}
}

// NewError builds a failure response for the given request id.
func NewError(id uint64, code int, message string, data json.RawMessage) Envelope {
	return Envelope{JSONRPC: Version, ID: &id, Error: &ErrorObject{Code: code, Message: message, Data: data}}
}

// IsRequest reports whether e expects a response.
func (e Envelope) IsRequest() bool { return e.Method != "" && e.ID != nil }

// IsNotification reports whether e is a one-way message.
func (e Envelope) IsNotification() bool { return e.Method != "" && e.ID == nil }

// IsResponse reports whether e settles a previously issued request.
func (e Envelope) IsResponse() bool { return e.Method == "" && e.ID != nil }

// Validate checks envelope well-formedness. Responses must carry exactly one
// of result/error; requests and notifications must carry neither.
func (e Envelope) Validate() error {
	if e.JSONRPC != Version {
		return fmt.Errorf("wire: unsupported protocol %q", e.JSONRPC)
	}
	if e.Method != "" {
		if e.Result != nil || e.Error != nil {
			return errors.New("wire: request carries result or error")
		}
		return nil
	}
	if e.ID == nil {
		return errors.New("wire: response without id")
	}
	hasResult := e.Result != nil
	hasError := e.Error != nil
	if hasResult == hasError {
		return errors.New("wire: response must carry exactly one of result and error")
	}
	return nil
}

// Decode parses and validates a wire envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Encode serializes an envelope for transmission.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
