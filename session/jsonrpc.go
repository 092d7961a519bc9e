package session

import (
	"encoding/json"
	"fmt"
)

// jsonRPCVersion is the fixed "jsonrpc" member of every message.
const jsonRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request as carried inside encrypted packets.
//
// The session layer treats method names and params as opaque; the adapter
// package gives them wallet-adapter shapes.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
//
// ID is a pointer: notifications and keep-alive frames legitimately arrive
// without one and are dropped rather than treated as protocol errors.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so wallet-reported failures can be
// returned directly from Call.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// encodeRequest serializes a request, marshalling params if they are not
// already raw JSON.
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	switch p := params.(type) {
	case nil:
		raw = nil
	case json.RawMessage:
		raw = p
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("session: encode params: %w", err)
		}
		raw = encoded
	}

	return json.Marshal(Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	})
}
