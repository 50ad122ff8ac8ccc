package admin

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeMethodNotEnabled = -32604
)

var (
	ErrMethodNotFound   = errors.New("Method not found")
	ErrMethodNotEnabled = errors.New("Method not enabled")
)

type ParamKind uint8

const (
	ParamMissing ParamKind = iota + 1
	ParamInvalid
)

// ParamError reports a positional parameter that is absent or malformed
type ParamError struct {
	Kind     ParamKind
	Index    int
	Expected string
}

func (e *ParamError) Error() string {
	if e.Kind == ParamMissing {
		return fmt.Sprintf("Missing required json rpc parameter at index %d", e.Index)
	}

	return fmt.Sprintf("Invalid json rpc parameter at index %d, expected %s", e.Index, e.Expected)
}

// rpcError is the error object of a JSON-RPC response
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func toRPCError(err error) *rpcError {
	var paramErr *ParamError

	switch {
	case errors.As(err, &paramErr):
		return &rpcError{Code: CodeInvalidParams, Message: paramErr.Error()}
	case errors.Is(err, ErrMethodNotFound):
		return &rpcError{Code: CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrMethodNotEnabled):
		return &rpcError{Code: CodeMethodNotEnabled, Message: err.Error()}
	default:
		return &rpcError{Code: CodeInternalError, Message: err.Error()}
	}
}
