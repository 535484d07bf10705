// Package mcp implements the gateway's MCP surface: the JSON-RPC method
// dispatcher and the server-to-client event stream.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mnehpets/mcpgate/capability"
	"github.com/mnehpets/mcpgate/jsonrpc"
)

// ProtocolVersion is the MCP revision announced by initialize.
const ProtocolVersion = "2024-11-05"

// Invoker runs a named capability.
type Invoker interface {
	Tools() []mcpgo.Tool
	Invoke(ctx context.Context, name string, args map[string]any) (*capability.Result, error)
}

// InitializeResult is the fixed answer to initialize.
type InitializeResult struct {
	ProtocolVersion string               `json:"protocolVersion"`
	ServerInfo      mcpgo.Implementation `json:"serverInfo"`
	Capabilities    ServerCapabilities   `json:"capabilities"`
}

// ServerCapabilities advertises tool support only.
type ServerCapabilities struct {
	Tools struct{} `json:"tools"`
}

// ListToolsResult is the answer to tools/list.
type ListToolsResult struct {
	Tools []mcpgo.Tool `json:"tools"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Dispatcher is a jsonrpc.Handler serving initialize, tools/list and
// tools/call. It holds no per-request state.
type Dispatcher struct {
	info  mcpgo.Implementation
	tools Invoker
}

// NewDispatcher returns a Dispatcher announcing itself as name/version.
func NewDispatcher(name, version string, tools Invoker) *Dispatcher {
	return &Dispatcher{
		info:  mcpgo.Implementation{Name: name, Version: version},
		tools: tools,
	}
}

// ServeJSONRPC implements jsonrpc.Handler.
func (d *Dispatcher) ServeJSONRPC(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch mcpgo.MCPMethod(req.Method) {
	case mcpgo.MethodInitialize:
		return &InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      d.info,
		}, nil
	case mcpgo.MethodToolsList:
		return &ListToolsResult{Tools: d.tools.Tools()}, nil
	case mcpgo.MethodToolsCall:
		return d.callTool(ctx, req.Params)
	default:
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found")
	}
}

func (d *Dispatcher) callTool(ctx context.Context, raw json.RawMessage) (any, error) {
	var p callParams
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params")
		}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	res, err := d.tools.Invoke(ctx, p.Name, p.Arguments)
	if errors.Is(err, capability.ErrUnknownTool) {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "Unknown tool: %s", p.Name)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

var _ jsonrpc.Handler = (*Dispatcher)(nil)
