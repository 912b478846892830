package loop

import (
	"context"
	"sync"

	"github.com/codefionn/agentloop/internal/llm"
)

// MockGenerator is a scripted Generator for tests. Each call returns the
// next queued Generation; the last entry repeats once the queue is
// exhausted.
type MockGenerator struct {
	mu          sync.Mutex
	Generations []*Generation
	Errs        []error
	Calls       int
}

// Generate returns the next scripted generation.
func (m *MockGenerator) Generate(_ context.Context, _ Conversation, _ []llm.ToolSpec) (*Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.Calls
	m.Calls++

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return nil, m.Errs[idx]
	}
	if len(m.Generations) == 0 {
		return &Generation{Text: "ok"}, nil
	}
	if idx >= len(m.Generations) {
		idx = len(m.Generations) - 1
	}
	return m.Generations[idx], nil
}

// MockJury is a scripted Jury for tests. Each call returns the next queued
// verdict; the last entry repeats once the queue is exhausted.
type MockJury struct {
	mu       sync.Mutex
	Verdicts []*Verdict
	Err      error
	Calls    int
}

// Evaluate returns the next scripted verdict.
func (m *MockJury) Evaluate(_ context.Context, _ RunState, _ string, _ string) (*Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.Calls
	m.Calls++

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Verdicts) == 0 {
		return &Verdict{}, nil
	}
	if idx >= len(m.Verdicts) {
		idx = len(m.Verdicts) - 1
	}
	return m.Verdicts[idx], nil
}

// MockOptimizer is a scripted Optimizer for tests.
type MockOptimizer struct {
	mu           sync.Mutex
	Outputs      []*Generation
	Reflections  []string
	ProduceErr   error
	ReflectErr   error
	ProduceCalls int
	ReflectCalls int

	// SeenReflections records the reflection passed into each Produce call.
	SeenReflections []string
}

// Produce returns the next scripted output.
func (m *MockOptimizer) Produce(_ context.Context, _ int, reflection string) (*Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.ProduceCalls
	m.ProduceCalls++
	m.SeenReflections = append(m.SeenReflections, reflection)

	if m.ProduceErr != nil {
		return nil, m.ProduceErr
	}
	if len(m.Outputs) == 0 {
		return &Generation{Text: "attempt"}, nil
	}
	if idx >= len(m.Outputs) {
		idx = len(m.Outputs) - 1
	}
	return m.Outputs[idx], nil
}

// Reflect returns the next scripted reflection.
func (m *MockOptimizer) Reflect(_ context.Context, _ int, _ string, _ *Verdict) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.ReflectCalls
	m.ReflectCalls++

	if m.ReflectErr != nil {
		return "", m.ReflectErr
	}
	if len(m.Reflections) == 0 {
		return "try harder", nil
	}
	if idx >= len(m.Reflections) {
		idx = len(m.Reflections) - 1
	}
	return m.Reflections[idx], nil
}

// CollectingListener records every event it receives, for tests.
type CollectingListener struct {
	mu     sync.Mutex
	Events []Event
}

// OnEvent appends the event.
func (c *CollectingListener) OnEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, event)
}

// Types reports the recorded event types in order.
func (c *CollectingListener) Types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]EventType, len(c.Events))
	for i, e := range c.Events {
		types[i] = e.Type
	}
	return types
}
