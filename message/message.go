// Package message defines the JSON-RPC envelopes exchanged with paired peers.
//
// Request is what a peer sends through either protocol generation. Response is
// the envelope written back on the modern wire; the legacy wire carries the same
// result or error object through its approve/reject calls.
//
//   - On success: {"id":1,"jsonrpc":"2.0","result":...}
//   - On failure: {"id":1,"jsonrpc":"2.0","error":{"code":-32000,"message":"..."}}
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "2.0"

// Request is one RPC call from a peer.
type Request struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc,omitempty"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
}

// Params is the ordered, opaque parameter list of a Request.
type Params []json.RawMessage

// UnmarshalJSON accepts an array, null or a single by-name object. A by-name
// object becomes a one-element list so it is still forwarded verbatim.
func (p *Params) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*p = Params{}
		return nil
	case trimmed[0] == '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*p = list
		return nil
	case trimmed[0] == '{':
		*p = Params{append(json.RawMessage(nil), trimmed...)}
		return nil
	default:
		return fmt.Errorf("params must be an array or object, got %s", trimmed)
	}
}

func (p Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]json.RawMessage(p))
}

// Response is the reply envelope for one Request. Exactly one of Result and Error is set.
type Response struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// NewResult builds a success envelope. A nil result is encoded as JSON null so
// the envelope still carries a result member.
func NewResult(id int64, result any) (Response, error) {
	var raw json.RawMessage
	switch v := result.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Response{}, fmt.Errorf("encode result: %w", err)
		}
		raw = encoded
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}
	return Response{ID: id, JSONRPC: Version, Result: raw}, nil
}

// NewErrorResponse builds a failure envelope from any error.
func NewErrorResponse(id int64, err error) Response {
	return Response{ID: id, JSONRPC: Version, Error: ErrorObject(err)}
}

// ErrorObject converts err into the error member of an envelope. Coded
// JSON-RPC errors pass through verbatim; anything else is a generic server error
// carrying the error text.
func ErrorObject(err error) *JSONRPCError {
	if err == nil {
		return nil
	}
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return &JSONRPCError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return &JSONRPCError{Code: CodeServerError, Message: err.Error()}
}
