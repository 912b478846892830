package loop

import (
	"context"
	"sync"

	"github.com/codefionn/agentloop/internal/llm"
)

// Generation is what the generation collaborator returns for one step:
// text, requested tool calls and token usage. The loops never execute tool
// calls themselves; they only observe whether any were requested and
// whether the reserved finish tool was among them.
type Generation struct {
	Text       string
	ToolCalls  []llm.ToolCall
	TokensUsed int
}

// HasToolCall reports whether a tool with the given name was requested.
func (g *Generation) HasToolCall(name string) bool {
	if g == nil || name == "" {
		return false
	}
	for _, call := range g.ToolCalls {
		if call.Name == name {
			return true
		}
	}
	return false
}

// Generator is the generation collaborator boundary. Implementations are
// expected to execute any requested tools and fold the results back into
// the conversation before the next Generate call.
type Generator interface {
	Generate(ctx context.Context, conv Conversation, tools []llm.ToolSpec) (*Generation, error)
}

// Conversation is the accumulated transcript shared between the loop and
// the generation collaborator.
type Conversation interface {
	// Append adds a message to the transcript
	Append(msg *llm.Message)

	// Messages returns the transcript in order
	Messages() []*llm.Message
}

// Transcript is the default in-memory Conversation implementation.
type Transcript struct {
	mu       sync.Mutex
	messages []*llm.Message
}

// NewTranscript creates an empty transcript, optionally seeded with an
// initial user task message.
func NewTranscript(task string) *Transcript {
	t := &Transcript{}
	if task != "" {
		t.Append(&llm.Message{Role: "user", Content: task})
	}
	return t
}

// Append adds a message to the transcript
func (t *Transcript) Append(msg *llm.Message) {
	if msg == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// Messages returns a copy of the transcript in order
func (t *Transcript) Messages() []*llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*llm.Message(nil), t.messages...)
}

// Verdict is the evaluation collaborator's judgment of an output.
type Verdict struct {
	// Score is in [0, 1]
	Score float64 `json:"score"`

	// Passed is the evaluator's pass/fail call
	Passed bool `json:"passed"`

	// Reasoning explains the judgment
	Reasoning string `json:"reasoning"`
}

// Jury is the evaluation collaborator boundary. A nil Jury disables all
// score-based termination paths.
type Jury interface {
	Evaluate(ctx context.Context, state RunState, latestOutput string, workspace string) (*Verdict, error)
}

// Optimizer is the collaborator set for the evaluator-optimizer pattern:
// an actor that produces an attempt (optionally seeded with the previous
// trial's reflection) and a reflector that critiques it for the next trial.
type Optimizer interface {
	// Produce generates the attempt for a trial. reflection is the
	// critique from the previous trial, empty on the first.
	Produce(ctx context.Context, trial int, reflection string) (*Generation, error)

	// Reflect critiques the trial's output. Not called on the final trial.
	Reflect(ctx context.Context, trial int, output string, verdict *Verdict) (string, error)
}
