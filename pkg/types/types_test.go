package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage_ScalarContent(t *testing.T) {
	msg := Message{ID: "m1", Role: RoleUser, Content: "hello"}

	norm := NormalizeMessage(msg)

	require.Len(t, norm.Parts, 1)
	text, ok := norm.Parts[0].(*TextPart)
	require.True(t, ok)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, PartStatusCompleted, text.Status)
	assert.Empty(t, norm.Content)
}

func TestNormalizeMessage_Idempotent(t *testing.T) {
	msg := Message{ID: "m1", Role: RoleUser, Content: "hello"}

	once := NormalizeMessage(msg)
	twice := NormalizeMessage(once)

	assert.Equal(t, once, twice)
}

func TestNormalizeMessage_EmptyIsNoop(t *testing.T) {
	msg := Message{ID: "m1", Role: RoleUser}
	assert.Equal(t, msg, NormalizeMessage(msg))
}

func TestNormalizeHistory(t *testing.T) {
	history := []Message{
		{ID: "m1", Role: RoleUser, Content: "one"},
		{ID: "m2", Role: RoleAssistant, Parts: []Part{
			&TextPart{ID: "p1", Type: PartTypeText, Text: "two", Status: PartStatusCompleted},
		}},
	}

	norm := NormalizeHistory(history)

	require.Len(t, norm, 2)
	assert.Len(t, norm[0].Parts, 1)
	assert.Equal(t, history[1].Parts, norm[1].Parts)
}

func TestUnmarshalPart(t *testing.T) {
	data := []byte(`{"id":"p1","type":"tool","callID":"c1","name":"grep","status":"completed","output":[{"type":"text","text":"hit"}]}`)

	part, err := UnmarshalPart(data)
	require.NoError(t, err)

	tool, ok := part.(*ToolPart)
	require.True(t, ok)
	assert.Equal(t, "grep", tool.Name)
	assert.Equal(t, "c1", tool.CallID)
	require.Len(t, tool.Output, 1)
	assert.Equal(t, "hit", tool.Output[0].Text)
}

func TestUnmarshalPart_UnknownType(t *testing.T) {
	_, err := UnmarshalPart([]byte(`{"id":"p1","type":"video"}`))
	assert.Error(t, err)
}

func TestMessageUnmarshalJSON_Parts(t *testing.T) {
	data := []byte(`{
		"id": "m1",
		"sessionID": "s1",
		"role": "assistant",
		"status": "completed",
		"parts": [
			{"id":"p0","type":"reasoning","text":"thinking","status":"completed"},
			{"id":"p1","type":"text","text":"answer","status":"completed"},
			{"id":"p2","type":"error","message":"boom"}
		]
	}`)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))

	require.Len(t, msg.Parts, 3)
	assert.Equal(t, PartTypeReasoning, msg.Parts[0].PartType())
	assert.Equal(t, PartTypeText, msg.Parts[1].PartType())
	assert.Equal(t, PartTypeError, msg.Parts[2].PartType())
}
