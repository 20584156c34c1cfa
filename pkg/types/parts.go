package types

import (
	"encoding/json"
	"fmt"
)

// Part type discriminators.
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeTool      = "tool"
	PartTypeError     = "error"
)

// Part completion statuses for text, reasoning and tool parts.
const (
	PartStatusPending   = "pending"
	PartStatusRunning   = "running"
	PartStatusCompleted = "completed"
	PartStatusError     = "error"
)

// Part is one typed fragment of a message body.
type Part interface {
	PartType() string
	PartID() string
}

// TextPart represents streamed text content.
type TextPart struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // always "text"
	Text   string `json:"text"`
	Status string `json:"status"`
}

func (p *TextPart) PartType() string { return PartTypeText }
func (p *TextPart) PartID() string   { return p.ID }

// ReasoningPart represents extended thinking content.
type ReasoningPart struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // always "reasoning"
	Text   string `json:"text"`
	Status string `json:"status"`
}

func (p *ReasoningPart) PartType() string { return PartTypeReasoning }
func (p *ReasoningPart) PartID() string   { return p.ID }

// ToolResultItem is one element of an itemized tool-result payload.
type ToolResultItem struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// ToolPart represents a tool call and, once executed, its result.
type ToolPart struct {
	ID     string           `json:"id"`
	Type   string           `json:"type"` // always "tool"
	CallID string           `json:"callID"`
	Name   string           `json:"name"`
	Input  map[string]any   `json:"input,omitempty"`
	Status string           `json:"status"`
	Output []ToolResultItem `json:"output,omitempty"`
	Error  *string          `json:"error,omitempty"`
}

func (p *ToolPart) PartType() string { return PartTypeTool }
func (p *ToolPart) PartID() string   { return p.ID }

// ErrorPart renders a provider or tool failure inline in the transcript.
type ErrorPart struct {
	ID      string `json:"id"`
	Type    string `json:"type"` // always "error"
	Message string `json:"message"`
}

func (p *ErrorPart) PartType() string { return PartTypeError }
func (p *ErrorPart) PartID() string   { return p.ID }

// UnmarshalPart decodes a JSON part into its concrete type.
func UnmarshalPart(data []byte) (Part, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case PartTypeText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartTypeReasoning:
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartTypeTool:
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartTypeError:
		var p ErrorPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown part type: %q", probe.Type)
	}
}
