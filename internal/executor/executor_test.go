package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/status"
	"github.com/parley-ai/parley/pkg/types"
)

// scriptedProvider replays canned steps and records what it was asked.
type scriptedProvider struct {
	steps    []scriptedStep
	calls    int
	requests []*provider.Request
	err      error
}

type scriptedStep struct {
	events []provider.Event
	result *provider.StepResult
}

func (s *scriptedProvider) ID() string   { return "scripted" }
func (s *scriptedProvider) Name() string { return "Scripted" }

func (s *scriptedProvider) CreateStep(_ context.Context, req *provider.Request) (*provider.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	step := s.steps[s.calls%len(s.steps)]
	s.calls++
	return provider.NewStream(func(emit func(provider.Event)) (*provider.StepResult, error) {
		for _, e := range step.events {
			emit(e)
		}
		return step.result, nil
	}), nil
}

func assistantStep(reason string, parts ...types.Part) scriptedStep {
	msg := types.Message{
		ID:     "asst",
		Role:   types.RoleAssistant,
		Status: types.StatusCompleted,
		Finish: &reason,
		Parts:  parts,
	}
	return scriptedStep{
		events: []provider.Event{provider.StepFinish{Reason: reason}},
		result: &provider.StepResult{Messages: []types.Message{msg}, Reason: reason},
	}
}

func textPart(text string) types.Part {
	return &types.TextPart{ID: "t", Type: types.PartTypeText, Text: text, Status: types.PartStatusCompleted}
}

func userHistory(text string) []types.Message {
	return []types.Message{{ID: "u1", Role: types.RoleUser, Content: text}}
}

func TestRun_SingleStepStop(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishStop, textPart("done")),
	}}
	exec := New(prov, nil, Options{})

	out, err := exec.Run(context.Background(), userHistory("hi"), "sys", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, prov.calls)
	require.Len(t, out, 2)
	assert.Equal(t, types.RoleAssistant, out[1].Role)
}

func TestRun_NormalizesScalarHistory(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishStop),
	}}
	exec := New(prov, nil, Options{})

	_, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	require.NoError(t, err)

	sent := prov.requests[0].History
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Parts, 1)
	assert.Empty(t, sent[0].Content)
}

func TestRun_ForwardsEventsInOrder(t *testing.T) {
	step := assistantStep(provider.FinishStop, textPart("hello"))
	step.events = []provider.Event{
		provider.TextStart{},
		provider.TextDelta{Text: "hel"},
		provider.TextDelta{Text: "lo"},
		provider.TextEnd{},
		provider.StepFinish{Reason: provider.FinishStop},
	}
	prov := &scriptedProvider{steps: []scriptedStep{step}}
	exec := New(prov, nil, Options{})

	var got []provider.Event
	_, err := exec.Run(context.Background(), userHistory("hi"), "", func(e provider.Event) {
		got = append(got, e)
	})
	require.NoError(t, err)

	require.Len(t, got, 5)
	assert.Equal(t, provider.TextDelta{Text: "hel"}, got[1])
	assert.Equal(t, provider.TextDelta{Text: "lo"}, got[2])
	assert.IsType(t, provider.StepFinish{}, got[4])
}

func TestRun_StopsAtStepCeiling(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishToolCalls),
	}}
	exec := New(prov, nil, Options{})

	out, err := exec.Run(context.Background(), userHistory("loop"), "", nil)
	require.NoError(t, err)

	assert.Equal(t, MaxSteps, prov.calls)
	assert.Len(t, out, 1+MaxSteps)
}

func TestRun_MaxStepsOption(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishToolCalls),
	}}
	exec := New(prov, nil, Options{MaxSteps: 3})

	out, err := exec.Run(context.Background(), userHistory("loop"), "", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, prov.calls)
	assert.Len(t, out, 4)
}

func TestRun_PrepareStepNotPersisted(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishStop),
	}}
	exec := New(prov, nil, Options{
		PrepareStep: func(history []types.Message, step int) []types.Message {
			injected := types.Message{ID: "ephemeral", Role: types.RoleUser, Content: "context"}
			return append(append([]types.Message{}, history...), injected)
		},
	})

	out, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	require.NoError(t, err)

	// The provider saw the injected message.
	require.Len(t, prov.requests[0].History, 2)
	assert.Equal(t, "ephemeral", prov.requests[0].History[1].ID)

	// Canonical history did not keep it.
	for _, m := range out {
		assert.NotEqual(t, "ephemeral", m.ID)
	}
}

func TestRun_TransformToolResultApplied(t *testing.T) {
	toolPart := &types.ToolPart{
		ID: "tp", Type: types.PartTypeTool, CallID: "c1", Name: "grep",
		Status: types.PartStatusCompleted,
		Output: []types.ToolResultItem{{Type: "text", Text: "raw"}},
	}
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishStop, toolPart),
	}}

	snap := status.Snapshot{Timestamp: "T1", CPU: "5%", Memory: "2GB"}
	exec := New(prov, nil, Options{
		TransformToolResult: func(output []types.ToolResultItem, toolName string) []types.ToolResultItem {
			return status.Inject(output, snap)
		},
	})

	out, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	require.NoError(t, err)

	tp := out[1].Parts[0].(*types.ToolPart)
	require.Len(t, tp.Output, 2)
	assert.Equal(t, status.Construct(snap), tp.Output[0].Text)
	assert.Equal(t, "raw", tp.Output[1].Text)
}

func TestRun_TransformAppliedToToolErrors(t *testing.T) {
	errText := "permission denied"
	toolPart := &types.ToolPart{
		ID: "tp", Type: types.PartTypeTool, CallID: "c1", Name: "rm",
		Status: types.PartStatusError,
		Error:  &errText,
	}
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishStop, toolPart),
	}}

	exec := New(prov, nil, Options{
		TransformToolResult: func(output []types.ToolResultItem, toolName string) []types.ToolResultItem {
			return append([]types.ToolResultItem{{Type: "text", Text: "header"}}, output...)
		},
	})

	out, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	require.NoError(t, err)

	tp := out[1].Parts[0].(*types.ToolPart)
	require.Len(t, tp.Output, 2)
	assert.Equal(t, "header", tp.Output[0].Text)
	assert.Equal(t, "Error: permission denied", tp.Output[1].Text)
}

func TestRun_StepFinishCallback(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishToolCalls),
		assistantStep(provider.FinishStop),
	}}

	var infos []StepInfo
	exec := New(prov, nil, Options{
		OnStepFinish: func(info StepInfo) { infos = append(infos, info) },
	})

	_, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, 0, infos[0].Step)
	assert.Equal(t, provider.FinishToolCalls, infos[0].Reason)
	assert.Equal(t, types.TokenUsage{}, infos[0].Usage)
	assert.Equal(t, 1, infos[1].Step)
	assert.Equal(t, provider.FinishStop, infos[1].Reason)
}

func TestRun_UnknownReasonAppendsThenStops(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptedStep{
		assistantStep(provider.FinishUnknown, textPart("partial")),
	}}
	exec := New(prov, nil, Options{})

	out, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, prov.calls)
	require.Len(t, out, 2)
	assert.Equal(t, "partial", out[1].Parts[0].(*types.TextPart).Text)
}

func TestRun_ProviderCallError(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("connection refused")}
	exec := New(prov, nil, Options{})

	out, err := exec.Run(context.Background(), userHistory("hi"), "", nil)
	assert.ErrorContains(t, err, "connection refused")
	assert.Len(t, out, 1)
}
