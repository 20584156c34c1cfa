package provider

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/types"
)

func TestStreamCloseReleasesProducer(t *testing.T) {
	// Emit far more events than the buffer holds so an abandoned stream
	// would leave the producer blocked without Close.
	s := NewStream(func(emit func(Event)) (*StepResult, error) {
		for i := 0; i < 100; i++ {
			emit(TextDelta{Text: "x"})
		}
		return &StepResult{Reason: FinishStop}, nil
	})

	_, err := s.Recv()
	require.NoError(t, err)
	s.Close()

	done := make(chan struct{})
	var res *StepResult
	go func() {
		defer close(done)
		res, err = s.Result()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
	require.NoError(t, err)
	assert.Equal(t, FinishStop, res.Reason)
}

func TestStreamCloseAfterExhaustion(t *testing.T) {
	s := NewStream(func(emit func(Event)) (*StepResult, error) {
		emit(StepFinish{Reason: FinishStop, Usage: types.TokenUsage{Total: 1}})
		return &StepResult{Reason: FinishStop}, nil
	})

	for {
		_, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	s.Close()
	s.Close()

	res, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, FinishStop, res.Reason)
}
