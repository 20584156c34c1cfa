package provider

import (
	"encoding/json"

	"github.com/parley-ai/parley/pkg/types"
)

// Event is one element of a step's ordered event stream.
type Event interface {
	event()
}

// TextStart indicates the start of text content.
type TextStart struct{}

func (TextStart) event() {}

// TextDelta carries a text increment.
type TextDelta struct {
	Text string
}

func (TextDelta) event() {}

// TextEnd indicates the end of text content.
type TextEnd struct{}

func (TextEnd) event() {}

// ReasoningStart indicates the start of reasoning content.
type ReasoningStart struct{}

func (ReasoningStart) event() {}

// ReasoningDelta carries a reasoning increment.
type ReasoningDelta struct {
	Text string
}

func (ReasoningDelta) event() {}

// ReasoningEnd indicates the end of reasoning content.
type ReasoningEnd struct{}

func (ReasoningEnd) event() {}

// ToolCall is a tool invocation whose arguments are known upfront.
type ToolCall struct {
	CallID string
	Name   string
	Input  json.RawMessage
}

func (ToolCall) event() {}

// ToolInputStart begins an incrementally-built tool invocation.
type ToolInputStart struct {
	CallID string
	Name   string
}

func (ToolInputStart) event() {}

// ToolInputDelta carries an argument increment for a tool invocation.
type ToolInputDelta struct {
	CallID string
	Delta  string
}

func (ToolInputDelta) event() {}

// ToolInputEnd completes an incrementally-built tool invocation.
type ToolInputEnd struct {
	CallID string
	Input  json.RawMessage
}

func (ToolInputEnd) event() {}

// ToolResult carries a completed tool execution's output.
type ToolResult struct {
	CallID string
	Name   string
	Output []types.ToolResultItem
}

func (ToolResult) event() {}

// ToolError reports a failed tool execution.
type ToolError struct {
	CallID  string
	Name    string
	Message string
}

func (ToolError) event() {}

// StepFinish terminates a step's stream with its reason and usage.
type StepFinish struct {
	Reason string
	Usage  types.TokenUsage
}

func (StepFinish) event() {}

// Error reports a provider or protocol failure as a stream event so partial
// output can still render.
type Error struct {
	Err error
}

func (Error) event() {}

// Abort reports cooperative cancellation.
type Abort struct{}

func (Abort) event() {}
