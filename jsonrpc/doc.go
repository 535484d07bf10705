// Package jsonrpc provides a JSON-RPC 2.0 endpoint for the endpoint processor chain.
//
// Unlike a reflective method registry, the endpoint forwards every request to
// a single Handler, which is expected to switch over a closed set of method
// names and return a *Error for anything it does not know:
//
//	h := jsonrpc.HandlerFunc(func(ctx context.Context, req *jsonrpc.Request) (any, error) {
//	    switch req.Method {
//	    case "ping":
//	        return "pong", nil
//	    default:
//	        return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found")
//	    }
//	})
//	http.Handle("POST /rpc", endpoint.Handler(jsonrpc.NewEndpoint(h).Endpoint, gate))
//
// # Ids
//
// The request id is kept as raw JSON and echoed byte-for-byte, so string,
// number and null ids keep their type. A request without an id is answered
// with "id": null rather than being treated as a notification.
//
// # Errors
//
// Three classes are kept apart:
//   - a body that is not JSON: HTTP 400 {"error":"Invalid JSON"}
//   - a *Error from the handler: HTTP 200 with a JSON-RPC error envelope
//   - any other handler error: returned to the endpoint handler, which
//     answers HTTP 500
//
// Processors run before parsing; their errors are HTTP errors, never
// JSON-RPC envelopes.
package jsonrpc
