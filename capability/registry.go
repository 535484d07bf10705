// Package capability holds the closed set of tools the gateway can invoke.
//
// Invoke reports two kinds of failure on different channels: domain failures
// (a *ValidationError from the tool itself) come back as a Result with
// IsError set, while an unknown tool name or an unexpected fault comes back
// as a Go error for the caller to translate.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Name identifies a capability.
type Name string

const (
	GenerateRandomNumber Name = "generate_random_number"
)

// ErrUnknownTool is wrapped by Invoke when the name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

var randomNumberSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"min": {
			"type": "integer",
			"description": "Minimum value (default: 1)",
			"default": 1
		},
		"max": {
			"type": "integer",
			"description": "Maximum value (default: 100)",
			"default": 100
		}
	}
}`)

// Result is the outcome of a tool invocation as seen by MCP clients.
// IsError is always serialized, including when false.
type Result struct {
	Content []mcp.TextContent `json:"content"`
	IsError bool              `json:"isError"`
}

// TextResult builds a single-block text result.
func TextResult(text string, isError bool) *Result {
	return &Result{
		Content: []mcp.TextContent{mcp.NewTextContent(text)},
		IsError: isError,
	}
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	tools  []mcp.Tool
	random func(lo, hi int) (int, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithRandomSource replaces the random integer function, for tests.
func WithRandomSource(fn func(lo, hi int) (int, error)) Option {
	return func(r *Registry) {
		r.random = fn
	}
}

// NewRegistry returns the registry with every built-in capability.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools: []mcp.Tool{
			mcp.NewToolWithRawSchema(
				string(GenerateRandomNumber),
				"Generate a random number within a specified range",
				randomNumberSchema,
			),
		},
		random: RandomInt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tools returns the capability descriptors in registration order.
func (r *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Invoke runs the named capability.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch Name(name) {
	case GenerateRandomNumber:
		return r.generateRandomNumber(args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func (r *Registry) generateRandomNumber(args map[string]any) (*Result, error) {
	lo := intArg(args, "min", DefaultMin)
	hi := intArg(args, "max", DefaultMax)

	n, err := r.random(lo, hi)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return TextResult("Error: "+ve.Message, true), nil
		}
		return nil, err
	}
	return TextResult(fmt.Sprintf("Generated random number: %d (range: %d-%d)", n, lo, hi), false), nil
}

// intArg coerces args[key] to an int. Fractions are truncated; missing,
// non-numeric or out-of-range values fall back to def.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return truncate(x, def)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		if f, err := x.Float64(); err == nil {
			return truncate(f, def)
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return truncate(f, def)
		}
	}
	return def
}

func truncate(f float64, def int) int {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return def
	}
	return int(f)
}
