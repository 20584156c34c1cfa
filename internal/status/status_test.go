package status

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/types"
)

func TestConstructDeterministic(t *testing.T) {
	snap := Snapshot{Timestamp: "T1", CPU: "10%", Memory: "1GB"}

	first := Construct(snap)
	second := Construct(snap)
	assert.Equal(t, first, second)

	// A later capture with different values must not affect the rendering
	// of the stored snapshot.
	other := Snapshot{Timestamp: "T2", CPU: "90%", Memory: "8GB"}
	_ = Construct(other)
	assert.Equal(t, first, Construct(snap))

	assert.Contains(t, first, "timestamp: T1")
	assert.Contains(t, first, "cpu: 10%")
	assert.Contains(t, first, "memory: 1GB")
}

func TestCapturePopulatesFields(t *testing.T) {
	snap := Capture()
	assert.NotEmpty(t, snap.Timestamp)
	assert.NotEmpty(t, snap.CPU)
	assert.True(t, strings.HasSuffix(snap.Memory, "MiB"))
}

func TestInjectPlainText(t *testing.T) {
	snap := Snapshot{Timestamp: "T1", CPU: "1%", Memory: "1GB"}

	items := Inject("tool output", snap)

	require.Len(t, items, 2)
	assert.Equal(t, Construct(snap), items[0].Text)
	assert.Equal(t, "tool output", items[1].Text)
}

func TestInjectError(t *testing.T) {
	snap := Snapshot{Timestamp: "T1"}

	items := Inject(errors.New("boom"), snap)

	require.Len(t, items, 2)
	assert.Equal(t, "Error: boom", items[1].Text)
}

func TestInjectStructured(t *testing.T) {
	snap := Snapshot{Timestamp: "T1"}

	items := Inject(map[string]any{"count": 3}, snap)

	require.Len(t, items, 2)
	assert.JSONEq(t, `{"count":3}`, items[1].Text)
}

func TestInjectPreItemized(t *testing.T) {
	snap := Snapshot{Timestamp: "T1"}
	existing := []types.ToolResultItem{
		{Type: "text", Text: "one"},
		{Type: "text", Text: "two"},
	}

	items := Inject(existing, snap)

	require.Len(t, items, 3)
	assert.Equal(t, Construct(snap), items[0].Text)
	assert.Equal(t, "one", items[1].Text)
	assert.Equal(t, "two", items[2].Text)
}

func TestInjectNil(t *testing.T) {
	snap := Snapshot{Timestamp: "T1"}

	items := Inject(nil, snap)

	require.Len(t, items, 1)
	assert.Equal(t, Construct(snap), items[0].Text)
}
