package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mnehpets/mcpgate/endpoint"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object. Returning one from a Handler produces an
// error envelope; any other error is an internal failure of the server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf is NewError with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is a single JSON-RPC request.
//
// ID holds the raw id token exactly as received. It is nil when the request
// carried no id and "null" when it carried an explicit null; both are echoed
// as null.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewResult builds a success response echoing id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// NewErrorResponse builds an error response echoing id.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

// Handler answers one request. It returns the result value, a *Error for
// protocol-level failures, or any other error for internal failures.
type Handler interface {
	ServeJSONRPC(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

func (f HandlerFunc) ServeJSONRPC(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// JSONRPCEndpoint serves JSON-RPC over HTTP POST.
// Use endpoint.Handler(e.Endpoint, processors...) to create an http.Handler.
type JSONRPCEndpoint struct {
	handler Handler
}

// NewEndpoint creates an endpoint that dispatches every request to h.
func NewEndpoint(h Handler) *JSONRPCEndpoint {
	return &JSONRPCEndpoint{handler: h}
}

// rpcParams captures the raw request body. Parsing is deferred to Dispatch
// because a malformed body is answered differently from a malformed request.
type rpcParams struct {
	Body []byte `body:""`
}

// Endpoint is the endpoint.EndpointFunc for JSON-RPC requests.
func (e *JSONRPCEndpoint) Endpoint(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	resp, err := e.Dispatch(r.Context(), params.Body)
	if err != nil {
		return nil, err
	}
	return &endpoint.JSONRenderer{Value: resp}, nil
}

// Dispatch parses body and runs the handler.
//
// A body that is not JSON at all yields a 400 EndpointError with the message
// "Invalid JSON": there is no id to answer with. Valid JSON that is not a
// request object yields an Invalid Request envelope with a null id. Members
// are decoded one at a time so that a mistyped method still gets Method not
// found with the request's id. Handler errors that are not *Error are
// returned unchanged.
func (e *JSONRPCEndpoint) Dispatch(ctx context.Context, body []byte) (*Response, error) {
	if !json.Valid(body) {
		return nil, endpoint.Error(http.StatusBadRequest, "Invalid JSON", nil)
	}

	var members struct {
		JSONRPC json.RawMessage `json:"jsonrpc"`
		Method  json.RawMessage `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &members); err != nil {
		return NewErrorResponse(nil, NewError(CodeInvalidRequest, "Invalid Request")), nil
	}

	req := Request{Params: members.Params, ID: members.ID}
	if len(members.JSONRPC) > 0 {
		// Not enforced; a mistyped version reads as empty.
		_ = json.Unmarshal(members.JSONRPC, &req.JSONRPC)
	}
	if len(members.Method) > 0 {
		if err := json.Unmarshal(members.Method, &req.Method); err != nil {
			return NewErrorResponse(req.ID, NewError(CodeMethodNotFound, "Method not found")), nil
		}
	}

	result, err := e.handler.ServeJSONRPC(ctx, &req)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return NewErrorResponse(req.ID, rpcErr), nil
		}
		return nil, err
	}
	return NewResult(req.ID, result), nil
}
