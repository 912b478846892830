package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/codefionn/agentloop/internal/loop"
)

// TurnLoopNode wraps a turn-limited loop as a node. Each execution seeds a
// fresh conversation with the node's input; the loop's final output becomes
// the node's output. A run that ends unsuccessfully is a node error, so the
// graph surfaces the loop's termination reason instead of silently routing
// a failed run.
func TurnLoopNode(cfg loop.TurnConfig, deps loop.TurnDeps) NodeFunc {
	return func(ctx context.Context, _ *Context, input string) (string, error) {
		d := deps
		d.Conversation = loop.NewTranscript(input)

		l, err := loop.NewTurnLimitedLoop(cfg, d)
		if err != nil {
			return "", err
		}

		result := l.Execute(ctx)
		if result.Err != nil {
			return "", result.Err
		}
		if !result.Success {
			return "", fmt.Errorf("turn loop terminated: %s (%s)", result.Reason, result.Message)
		}
		return result.Output, nil
	}
}

// EvaluatorLoopNode wraps an evaluator-optimizer loop as a node. The best
// trial's output becomes the node's output. The node's input is published
// into the shared context under "task" for optimizers that read it.
func EvaluatorLoopNode(cfg loop.EvalConfig, deps loop.EvalDeps) NodeFunc {
	return func(ctx context.Context, gctx *Context, input string) (string, error) {
		gctx.Set("task", input)

		l, err := loop.NewEvaluatorOptimizerLoop(cfg, deps)
		if err != nil {
			return "", err
		}

		result := l.Execute(ctx)
		if result.Err != nil {
			return "", result.Err
		}
		if result.Best == nil {
			return "", fmt.Errorf("evaluator loop produced no trials: %s (%s)", result.Reason, result.Message)
		}
		return result.Best.Output, nil
	}
}

// StateMachineNode wraps a state machine as a node. The machine must be
// freshly constructed per node since Execute reuses its registered states;
// the factory is invoked once per graph execution.
func StateMachineNode(factory func() (*loop.StateMachineLoop, error)) NodeFunc {
	return func(ctx context.Context, _ *Context, input string) (string, error) {
		m, err := factory()
		if err != nil {
			return "", err
		}

		result := m.Execute(ctx)
		if result.Err != nil {
			return "", result.Err
		}
		if !result.Success {
			return "", fmt.Errorf("state machine terminated: %s (%s)", result.Reason, result.Message)
		}
		return result.Output, nil
	}
}

// FuncNode wraps a plain computation step that needs no shared context.
func FuncNode(fn func(input string) (string, error)) NodeFunc {
	return func(_ context.Context, _ *Context, input string) (string, error) {
		return fn(input)
	}
}

// OutputContains is an edge predicate accepting outputs that contain the
// given substring.
func OutputContains(substr string) Predicate {
	return func(output string) bool { return strings.Contains(output, substr) }
}

// OutputEquals is an edge predicate accepting exactly the given output.
func OutputEquals(want string) Predicate {
	return func(output string) bool { return output == want }
}

// Always is an edge predicate that accepts any output.
func Always() Predicate {
	return func(string) bool { return true }
}
