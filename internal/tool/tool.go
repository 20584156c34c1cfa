// Package tool defines the tool capability set supplied to provider calls.
// Tool bodies live with the caller; this package only carries the contract
// and the name-to-executable registry.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is one executable capability exposed to the model.
type Tool interface {
	// Name returns the tool identifier the model calls it by.
	Name() string

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema for the tool input.
	Parameters() json.RawMessage

	// Execute runs the tool. The returned string is the raw result payload;
	// a returned error surfaces as a tool-error event.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	ToolParameters  json.RawMessage
	Run             func(ctx context.Context, input json.RawMessage) (string, error)
}

func (f *Func) Name() string                { return f.ToolName }
func (f *Func) Description() string         { return f.ToolDescription }
func (f *Func) Parameters() json.RawMessage { return f.ToolParameters }

func (f *Func) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return f.Run(ctx, input)
}
