package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/tool"
	"github.com/parley-ai/parley/pkg/types"
)

// EinoProvider adapts an Eino chat model to the step-event contract. Tool
// calls requested by the model are executed through the request's registry
// and their results folded back into the step's message set.
type EinoProvider struct {
	id        string
	name      string
	chatModel model.ToolCallingChatModel
}

// NewEinoProvider wraps an Eino ToolCallingChatModel.
func NewEinoProvider(id, name string, cm model.ToolCallingChatModel) *EinoProvider {
	return &EinoProvider{id: id, name: name, chatModel: cm}
}

func (p *EinoProvider) ID() string   { return p.id }
func (p *EinoProvider) Name() string { return p.name }

// CreateStep starts a streaming completion for one step.
func (p *EinoProvider) CreateStep(ctx context.Context, req *Request) (*Stream, error) {
	cm := p.chatModel
	if req.Tools != nil {
		if infos := toolInfos(req.Tools); len(infos) > 0 {
			bound, err := cm.WithTools(infos)
			if err != nil {
				return nil, err
			}
			cm = bound
		}
	}

	msgs := buildEinoMessages(req.System, req.History)
	reader, err := cm.Stream(ctx, msgs)
	if err != nil {
		return nil, err
	}

	return NewStream(func(emit func(Event)) (*StepResult, error) {
		defer reader.Close()
		return p.consume(ctx, reader, req, emit)
	}), nil
}

// pendingTool accumulates one tool invocation across stream chunks.
type pendingTool struct {
	part *types.ToolPart
	args string
}

func (p *EinoProvider) consume(
	ctx context.Context,
	reader *schema.StreamReader[*schema.Message],
	req *Request,
	emit func(Event),
) (*StepResult, error) {
	var (
		textPart      *types.TextPart
		reasoningPart *types.ReasoningPart
		toolOrder     []string
		tools         = map[string]*pendingTool{}
		parts         []types.Part
		finishReason  string
		usage         types.TokenUsage
		streamErr     error
		aborted       bool
	)

	closeText := func() {
		if textPart != nil && textPart.Status != types.PartStatusCompleted {
			textPart.Status = types.PartStatusCompleted
			emit(TextEnd{})
		}
	}
	closeReasoning := func() {
		if reasoningPart != nil && reasoningPart.Status != types.PartStatusCompleted {
			reasoningPart.Status = types.PartStatusCompleted
			emit(ReasoningEnd{})
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			aborted = true
			break loop
		default:
		}

		chunk, err := reader.Recv()
		if err != nil {
			if !isEOF(err) {
				if ctx.Err() != nil {
					aborted = true
				} else {
					streamErr = err
				}
			}
			break
		}

		if chunk.ReasoningContent != "" {
			if reasoningPart == nil {
				reasoningPart = &types.ReasoningPart{
					ID:     newID(),
					Type:   types.PartTypeReasoning,
					Status: types.PartStatusRunning,
				}
				parts = append(parts, reasoningPart)
				emit(ReasoningStart{})
			}
			if delta := growth(reasoningPart.Text, chunk.ReasoningContent); delta != "" {
				reasoningPart.Text += delta
				emit(ReasoningDelta{Text: delta})
			}
		}

		if chunk.Content != "" {
			closeReasoning()
			if textPart == nil {
				textPart = &types.TextPart{
					ID:     newID(),
					Type:   types.PartTypeText,
					Status: types.PartStatusRunning,
				}
				parts = append(parts, textPart)
				emit(TextStart{})
			}
			if delta := growth(textPart.Text, chunk.Content); delta != "" {
				textPart.Text += delta
				emit(TextDelta{Text: delta})
			}
		}

		for _, tc := range chunk.ToolCalls {
			if tc.ID == "" && len(toolOrder) > 0 {
				// Continuation chunk without an id belongs to the last call.
				tc.ID = toolOrder[len(toolOrder)-1]
			}
			pt, ok := tools[tc.ID]
			if !ok {
				closeReasoning()
				closeText()
				pt = &pendingTool{part: &types.ToolPart{
					ID:     newID(),
					Type:   types.PartTypeTool,
					CallID: tc.ID,
					Name:   tc.Function.Name,
					Status: types.PartStatusPending,
				}}
				tools[tc.ID] = pt
				toolOrder = append(toolOrder, tc.ID)
				parts = append(parts, pt.part)
				emit(ToolInputStart{CallID: tc.ID, Name: tc.Function.Name})
			}
			if pt.part.Name == "" {
				pt.part.Name = tc.Function.Name
			}
			if delta := growth(pt.args, tc.Function.Arguments); delta != "" {
				pt.args += delta
				emit(ToolInputDelta{CallID: tc.ID, Delta: delta})
			}
		}

		if chunk.ResponseMeta != nil {
			if u := chunk.ResponseMeta.Usage; u != nil {
				usage.Prompt = u.PromptTokens
				usage.Completion = u.CompletionTokens
				usage.Total = u.TotalTokens
			}
			if chunk.ResponseMeta.FinishReason != "" {
				finishReason = chunk.ResponseMeta.FinishReason
			}
		}
	}

	closeReasoning()
	closeText()

	for _, id := range toolOrder {
		pt := tools[id]
		input := json.RawMessage(pt.args)
		if pt.args != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(pt.args), &parsed); err == nil {
				pt.part.Input = parsed
			}
		}
		pt.part.Status = types.PartStatusRunning
		emit(ToolInputEnd{CallID: id, Input: input})
	}

	if usage.Total == 0 {
		usage.Total = usage.Prompt + usage.Completion
	}

	reason := normalizeFinish(finishReason, len(toolOrder) > 0)
	status := types.StatusCompleted
	switch {
	case aborted:
		emit(Abort{})
		reason = FinishAbort
		status = types.StatusAbort
	case streamErr != nil:
		emit(Error{Err: streamErr})
		parts = append(parts, &types.ErrorPart{
			ID:      newID(),
			Type:    types.PartTypeError,
			Message: streamErr.Error(),
		})
		reason = FinishError
		status = types.StatusError
	case reason == FinishToolCalls && req.Tools != nil:
		for _, id := range toolOrder {
			p.runTool(ctx, req.Tools, tools[id].part, emit)
		}
	}

	emit(StepFinish{Reason: reason, Usage: usage})

	msg := types.Message{
		ID:        newID(),
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UnixMilli(),
		Status:    status,
		Finish:    &reason,
		Parts:     parts,
		Usage:     &usage,
	}
	return &StepResult{Messages: []types.Message{msg}, Reason: reason, Usage: usage}, nil
}

// runTool executes one requested tool call and records its outcome on the
// tool part.
func (p *EinoProvider) runTool(ctx context.Context, reg *tool.Registry, part *types.ToolPart, emit func(Event)) {
	fail := func(msg string) {
		part.Status = types.PartStatusError
		part.Error = &msg
		emit(ToolError{CallID: part.CallID, Name: part.Name, Message: msg})
	}

	t, ok := reg.Get(part.Name)
	if !ok {
		fail("tool not found: " + part.Name)
		return
	}

	input, err := json.Marshal(part.Input)
	if err != nil {
		fail("invalid tool input: " + err.Error())
		return
	}

	out, err := t.Execute(ctx, input)
	if err != nil {
		fail(err.Error())
		return
	}

	part.Status = types.PartStatusCompleted
	part.Output = []types.ToolResultItem{{Type: "text", Text: out}}
	emit(ToolResult{CallID: part.CallID, Name: part.Name, Output: part.Output})
	logging.Debug().Str("tool", part.Name).Str("callID", part.CallID).Msg("tool executed")
}

// buildEinoMessages converts a system prompt plus canonical history into the
// provider wire form. Tool results embedded in assistant tool parts become
// separate tool-role messages, which is what chat APIs expect.
func buildEinoMessages(system string, history []types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	if system != "" {
		out = append(out, &schema.Message{Role: schema.System, Content: system})
	}

	for i := range history {
		msg := types.NormalizeMessage(history[i])
		switch msg.Role {
		case types.RoleUser:
			out = append(out, &schema.Message{Role: schema.User, Content: joinText(msg.Parts)})
		case types.RoleAssistant:
			var content strings.Builder
			var toolCalls []schema.ToolCall
			var results []*schema.Message
			for _, part := range msg.Parts {
				switch p := part.(type) {
				case *types.TextPart:
					content.WriteString(p.Text)
				case *types.ToolPart:
					args, _ := json.Marshal(p.Input)
					toolCalls = append(toolCalls, schema.ToolCall{
						ID: p.CallID,
						Function: schema.FunctionCall{
							Name:      p.Name,
							Arguments: string(args),
						},
					})
					results = append(results, &schema.Message{
						Role:       schema.Tool,
						ToolCallID: p.CallID,
						Content:    toolResultText(p),
					})
				}
			}
			out = append(out, &schema.Message{
				Role:      schema.Assistant,
				Content:   content.String(),
				ToolCalls: toolCalls,
			})
			out = append(out, results...)
		}
	}
	return out
}

func joinText(parts []types.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if p, ok := part.(*types.TextPart); ok {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func toolResultText(p *types.ToolPart) string {
	if p.Error != nil {
		return "Error: " + *p.Error
	}
	items := make([]string, 0, len(p.Output))
	for _, item := range p.Output {
		items = append(items, item.Text)
	}
	return strings.Join(items, "\n")
}

// toolInfos converts registry tools into Eino tool schemas.
func toolInfos(reg *tool.Registry) []*schema.ToolInfo {
	all := reg.List()
	infos := make([]*schema.ToolInfo, 0, len(all))
	for _, t := range all {
		infos = append(infos, &schema.ToolInfo{
			Name:        t.Name(),
			Desc:        t.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(parseParams(t.Parameters())),
		})
	}
	return infos
}

// parseParams converts a JSON Schema document to Eino parameter infos.
func parseParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var doc struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil
	}

	required := make(map[string]bool, len(doc.Required))
	for _, r := range doc.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(doc.Properties))
	for name, prop := range doc.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: required[name],
		}
	}
	return params
}

// normalizeFinish maps provider-specific finish reasons onto the step
// vocabulary.
func normalizeFinish(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_use", "tool_calls":
		return FinishToolCalls
	case "stop", "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens", "length":
		return FinishLength
	case "":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishUnknown
	}
}

func growth(have, incoming string) string {
	// Providers differ on whether chunk fields are cumulative or deltas.
	if strings.HasPrefix(incoming, have) {
		return incoming[len(have):]
	}
	return incoming
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func newID() string {
	return ulid.Make().String()
}
