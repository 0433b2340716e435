// Package jsonrpc provides the minimal JSON-RPC 2.0 wire types shared by the
// transport and rpc packages: request/response envelopes, the request ID
// union, and typed errors. It deliberately knows nothing about connections,
// retries, or method dispatch — those live in package rpc.
package jsonrpc

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

const wireVersion = "2.0"

// RawMessage is the raw-JSON type used for unparsed params/results
// throughout this module, re-exported so callers don't need to import the
// underlying encoder package directly.
type RawMessage = json.RawMessage

// ID is a JSON-RPC request identifier: a string, a number, or absent
// (for notifications).
type ID struct {
	value any
}

// StringID builds a string request ID.
func StringID(s string) ID { return ID{value: s} }

// Int64ID builds a numeric request ID.
func Int64ID(i int64) ID { return ID{value: i} }

// IsValid reports whether id was constructed with a value (as opposed to the
// zero ID used for notifications).
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying string or int64.
func (id ID) Raw() any { return id.value }

func (id ID) String() string {
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return "<invalid>"
	}
}

func makeID(v any) (ID, error) {
	switch v := v.(type) {
	case nil:
		return ID{}, nil
	case float64:
		return Int64ID(int64(v)), nil
	case string:
		return StringID(v), nil
	}
	return ID{}, fmt.Errorf("jsonrpc: invalid id type %T", v)
}

// Message is implemented by *Request and *Response, the only two wire
// message shapes.
type Message interface {
	marshal(to *wireCombined)
}

// Request is an outbound or inbound call (ID set) or notification (ID
// unset).
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// IsCall reports whether Request expects a Response.
func (r *Request) IsCall() bool { return r.ID.IsValid() }

func (r *Request) marshal(to *wireCombined) {
	to.ID = r.ID.value
	to.Method = r.Method
	to.Params = r.Params
}

// Response answers a Request that had an ID.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

func (r *Response) marshal(to *wireCombined) {
	to.ID = r.ID.value
	to.Result = r.Result
	to.Error = r.Error
}

// Error is a JSON-RPC error object. Code follows the JSON-RPC reserved
// ranges where applicable; Chronicals-specific failures use the Kind field
// on top via the rpc package's error wrapping.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: code %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

type wireCombined struct {
	VersionTag string          `json:"jsonrpc"`
	ID         any             `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
}

// EncodeMessage marshals a Request or Response to wire bytes.
func EncodeMessage(msg Message) ([]byte, error) {
	wire := wireCombined{VersionTag: wireVersion}
	msg.marshal(&wire)
	data, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshaling message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses wire bytes into a *Request or *Response. The envelope
// shape is fixed, so no case-smuggling guard is needed here; callers
// decoding the Params/Result payload into a concrete Go type should use
// StrictUnmarshal instead of Unmarshal for that.
func DecodeMessage(data []byte) (Message, error) {
	var msg wireCombined
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("jsonrpc: unmarshaling message: %w", err)
	}
	if msg.VersionTag != "" && msg.VersionTag != wireVersion {
		return nil, fmt.Errorf("jsonrpc: unsupported version %q", msg.VersionTag)
	}
	id, err := makeID(msg.ID)
	if err != nil {
		return nil, err
	}
	if msg.Method != "" {
		return &Request{ID: id, Method: msg.Method, Params: msg.Params}, nil
	}
	if !id.IsValid() {
		return nil, fmt.Errorf("jsonrpc: message is neither a call nor a response")
	}
	return &Response{ID: id, Result: msg.Result, Error: msg.Error}, nil
}

// Marshal is the encoding entry point used throughout the module, so the
// fast segmentio encoder is exercised uniformly instead of only at the
// envelope boundary.
func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal is the decode counterpart of Marshal.
func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MarshalIndent is the indented variant of Marshal, used for
// human-readable log payloads.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}
