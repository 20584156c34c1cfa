// Package provider abstracts language-model providers behind a typed,
// ordered step-event stream.
package provider

import (
	"context"
	"io"
	"sync"

	"github.com/parley-ai/parley/internal/tool"
	"github.com/parley-ai/parley/pkg/types"
)

// Step termination reasons, normalized across providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	FinishError     = "error"
	FinishAbort     = "abort"
	FinishUnknown   = "unknown"
)

// Request describes a single step call to a provider.
type Request struct {
	System      string
	History     []types.Message
	Tools       *tool.Registry
	MaxTokens   int
	Temperature float64
}

// StepResult is the finalized outcome of one step.
type StepResult struct {
	// Messages is the step's produced message set, ready to append to
	// canonical history.
	Messages []types.Message
	Reason   string
	Usage    types.TokenUsage
}

// Provider is a language-model backend capable of executing one step.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// CreateStep starts one step. The returned stream is finite and
	// non-restartable.
	CreateStep(ctx context.Context, req *Request) (*Stream, error)
}

// Stream is a lazily-produced, finite event sequence for one step. Recv
// returns io.EOF after the terminal event; Result is valid once Recv has
// returned io.EOF. A consumer that stops receiving early must call Close
// so the producer is not left blocked on a full buffer.
type Stream struct {
	events chan Event
	done   chan struct{}
	closed chan struct{}

	closeOnce sync.Once

	result *StepResult
	err    error
}

// NewStream creates a stream fed by the given producer. The producer runs
// in its own goroutine; it must return the finalized result or an error,
// and may emit events through the channel it is handed.
func NewStream(producer func(emit func(Event)) (*StepResult, error)) *Stream {
	s := &Stream{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		res, err := producer(func(e Event) {
			select {
			case s.events <- e:
			case <-s.closed:
			}
		})
		s.result = res
		s.err = err
	}()
	return s
}

// Close releases the producer. Events emitted after Close are dropped; the
// producer still runs to completion, so Result remains valid. Safe to call
// more than once and after normal exhaustion.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Recv returns the next event, or io.EOF once the stream is exhausted.
func (s *Stream) Recv() (Event, error) {
	e, ok := <-s.events
	if !ok {
		<-s.done
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	return e, nil
}

// Result blocks until the stream has finished and returns its finalized
// outcome.
func (s *Stream) Result() (*StepResult, error) {
	<-s.done
	return s.result, s.err
}
