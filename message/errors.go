package message

import "fmt"

// Standard JSON-RPC 2.0 and EIP-1474 error codes used by the bridge.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeLimitExceeded  = -32005
)

// JSONRPCError is a coded error surfaced verbatim to peers. It is distinct from
// transport failures and from internal invariant violations.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func (e *JSONRPCError) Unwrap() error { return e.cause }

// NewError returns a coded error without an underlying cause.
func NewError(code int, message string) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: message}
}

// InvalidParams wraps a validation failure so callers can still match the cause with errors.Is.
func InvalidParams(cause error) *JSONRPCError {
	return &JSONRPCError{Code: CodeInvalidParams, Message: cause.Error(), cause: cause}
}
