// Package executor drives a provider conversation as a capped sequence of
// steps, forwarding every streamed event and growing a canonical message
// history.
package executor

import (
	"context"
	"io"

	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/tool"
	"github.com/parley-ai/parley/pkg/types"
)

// MaxSteps is the hard ceiling on loop iterations for one run.
const MaxSteps = 1000

// PrepareStepFunc builds the provider-facing history for one step. Its
// output is used for that step's call only and is never persisted.
type PrepareStepFunc func(history []types.Message, step int) []types.Message

// TransformToolResultFunc enriches a tool-result payload before it is
// appended to canonical history.
type TransformToolResultFunc func(output []types.ToolResultItem, toolName string) []types.ToolResultItem

// StepFinishFunc observes each completed step, after its stream is
// exhausted and before its messages are appended to history.
type StepFinishFunc func(info StepInfo)

// StepInfo describes one completed step.
type StepInfo struct {
	Step     int
	Reason   string
	Usage    types.TokenUsage
	Messages []types.Message
}

// Sink receives every stream event, unmodified, in arrival order.
type Sink func(event provider.Event)

// Options configures the optional hooks. All are strategy closures with
// no-op defaults.
type Options struct {
	// MaxSteps lowers the step ceiling; values above MaxSteps or <= 0 use
	// the ceiling.
	MaxSteps            int
	PrepareStep         PrepareStepFunc
	TransformToolResult TransformToolResultFunc
	OnStepFinish        StepFinishFunc
}

// Executor runs the step loop. Distinct executors share no state and may
// run fully concurrently.
type Executor struct {
	provider provider.Provider
	tools    *tool.Registry
	opts     Options
}

// New creates an executor for one provider and tool set.
func New(p provider.Provider, tools *tool.Registry, opts Options) *Executor {
	if opts.MaxSteps <= 0 || opts.MaxSteps > MaxSteps {
		opts.MaxSteps = MaxSteps
	}
	return &Executor{provider: p, tools: tools, opts: opts}
}

// Run executes steps until a step's termination reason is not "tool calls
// requested" or the step ceiling is hit. It returns the grown canonical
// history; the input slice is not mutated. Provider errors that surface as
// rejected calls are returned as-is, after any partial history growth.
func (e *Executor) Run(ctx context.Context, history []types.Message, system string, sink Sink) ([]types.Message, error) {
	canonical := types.NormalizeHistory(history)

	for step := 0; step < e.opts.MaxSteps; step++ {
		prepared := canonical
		if e.opts.PrepareStep != nil {
			prepared = types.NormalizeHistory(e.opts.PrepareStep(canonical, step))
		}

		stream, err := e.provider.CreateStep(ctx, &provider.Request{
			System:  system,
			History: prepared,
			Tools:   e.tools,
		})
		if err != nil {
			return canonical, err
		}

		for {
			ev, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				return canonical, err
			}
			if sink != nil {
				sink(ev)
			}
		}

		res, err := stream.Result()
		stream.Close()
		if err != nil {
			return canonical, err
		}

		e.transformToolResults(res.Messages)

		if e.opts.OnStepFinish != nil {
			e.opts.OnStepFinish(StepInfo{
				Step:     step,
				Reason:   res.Reason,
				Usage:    res.Usage,
				Messages: res.Messages,
			})
		}

		canonical = append(canonical, res.Messages...)

		if res.Reason != provider.FinishToolCalls {
			logging.Debug().Int("steps", step+1).Str("reason", res.Reason).Msg("step loop finished")
			return canonical, nil
		}
	}

	logging.Warn().Int("steps", e.opts.MaxSteps).Msg("step ceiling reached")
	return canonical, nil
}

// transformToolResults runs each tool-result payload through the transform
// hook. Failed tool calls pass their error text through the same hook so
// enrichment applies to every result shape.
func (e *Executor) transformToolResults(messages []types.Message) {
	if e.opts.TransformToolResult == nil {
		return
	}
	for i := range messages {
		for _, part := range messages[i].Parts {
			tp, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			switch tp.Status {
			case types.PartStatusCompleted:
				tp.Output = e.opts.TransformToolResult(tp.Output, tp.Name)
			case types.PartStatusError:
				if tp.Error != nil {
					tp.Output = e.opts.TransformToolResult(
						[]types.ToolResultItem{{Type: "text", Text: "Error: " + *tp.Error}},
						tp.Name,
					)
				}
			}
		}
	}
}
