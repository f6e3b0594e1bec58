package domain

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version spoken on the wire.
const JSONRPCVersion = "2.0"

// JSON-RPC 2.0 reserved error codes.
// See http://xmlrpc-epi.sourceforge.net/specs/rfc.fault_codes.php
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// WebSocket close codes the client produces or interprets.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseAbnormal      = 1006
	CloseInternalError = 1011
)

// Messages carried by client-generated RPC errors.
const (
	MsgConnectionClosed = "Closed connection. Trying to write to a closed socket."
	MsgRequestTimeout   = "Timeout exceeded. No reply received in the specified duration."
	MsgReplyDiscarded   = "Reply discarded. Not waiting for a reply anymore."
	MsgMalformedError   = "Malformed error reply."
)

// Request is an outbound JSON-RPC call. Params is an array or an object.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  any    `json:"params"`
}

// Notification is an inbound message that did not match any outstanding call.
// Besides genuine server notifications this includes replies whose call has
// already timed out or been abandoned, in which case ID and Result or Error
// are set.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`

	// Raw is the payload exactly as received.
	Raw json.RawMessage `json:"-"`
}

// RPCError is the {code, message, data} triple every failed call surfaces.
// Errors decoded from the wire unwrap to ErrServerReported; errors created by
// the client unwrap to the sentinel they were built with.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	kind error
}

// NewRPCError creates a client-side RPC error classified by kind.
func NewRPCError(kind error, code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message, kind: kind}
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	if e.kind == nil {
		return ErrServerReported
	}
	return e.kind
}

// CloseError reports how a connection ended.
type CloseError struct {
	Code   int
	Reason string
	Err    error // underlying transport error, if any
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return e.Err }

// Normal reports whether the connection ended with a normal closure.
func (e *CloseError) Normal() bool { return e.Code == CloseNormal }
