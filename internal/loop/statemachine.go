package loop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/agentloop/internal/llm"
	"github.com/codefionn/agentloop/internal/logger"
)

// Well-known state names with built-in behavior. Any of them can be
// overridden by registering a handler under the same name.
const (
	StateInitial            = "initial"
	StateRunning            = "running"
	StateAwaitingEvaluation = "awaiting_evaluation"
	StateComplete           = "complete"
	StateFailed             = "failed"
)

// AgentState declares a named state. An empty AllowedTransitions slice
// permits transitions to any registered state.
type AgentState struct {
	Name               string
	Terminal           bool
	AllowedTransitions []string
}

// allows reports whether a transition to target is permitted.
func (s AgentState) allows(target string) bool {
	if len(s.AllowedTransitions) == 0 {
		return true
	}
	for _, name := range s.AllowedTransitions {
		if name == target {
			return true
		}
	}
	return false
}

// StateTransition records one resolved state change.
type StateTransition struct {
	Iteration int
	From      string
	To        string
	Output    string
	Duration  time.Duration
	Reason    string
}

type directiveKind int

const (
	directiveStay directiveKind = iota
	directiveTransition
	directiveComplete
	directiveFail
)

// Directive is a state handler's tagged instruction to the machine. Every
// directive may carry output produced during the iteration.
type Directive struct {
	kind    directiveKind
	target  string
	output  string
	message string
}

// Stay keeps the machine in the current state for another iteration.
func Stay(output string) Directive {
	return Directive{kind: directiveStay, output: output}
}

// TransitionTo moves the machine to the named state.
func TransitionTo(name, output string) Directive {
	return Directive{kind: directiveTransition, target: name, output: output}
}

// Complete moves the machine to the complete state with a final output.
func Complete(output string) Directive {
	return Directive{kind: directiveComplete, output: output}
}

// Fail moves the machine to the failed state with a diagnostic message.
func Fail(output, message string) Directive {
	return Directive{kind: directiveFail, output: output, message: message}
}

// Turn is the per-iteration view a state handler works with.
type Turn struct {
	RunID      string
	Iteration  int
	State      RunState
	Current    string
	LastOutput string

	// Conversation is the shared transcript, nil when the machine was built
	// without one
	Conversation Conversation
}

// StateHandler implements one state's behavior. A returned error fails the
// whole run.
type StateHandler func(ctx context.Context, turn *Turn) (Directive, error)

// MachineConfig configures a StateMachineLoop.
type MachineConfig struct {
	// MaxIterations bounds the number of handler invocations (default: 50)
	MaxIterations int

	// Timeout bounds wall-clock time for the whole run (0 disables)
	Timeout time.Duration

	// ScoreThreshold is used by the built-in awaiting_evaluation behavior
	ScoreThreshold float64

	// CostPerKiloTokens converts token usage into estimated cost
	CostPerKiloTokens float64

	// Tools are offered by the built-in running behavior
	Tools []llm.ToolSpec
}

// DefaultMachineConfig returns a MachineConfig with sensible defaults.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		MaxIterations:  50,
		ScoreThreshold: 1.0,
	}
}

// Validate reports the first configuration problem, if any.
func (c MachineConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("machine config: MaxIterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("machine config: ScoreThreshold must be in [0, 1], got %f", c.ScoreThreshold)
	}
	return nil
}

// MachineDeps carries the collaborators for a StateMachineLoop. Generator is
// required only when the built-in running behavior is used.
type MachineDeps struct {
	Generator    Generator
	Conversation Conversation
	Jury         Jury
	Workspace    string
	ModelID      string
	Listeners    []Listener
}

// MachineResult is the structured outcome of a state-machine run.
type MachineResult struct {
	RunID   string
	Reason  Reason
	Message string
	Success bool

	// Output is the final output carried into the terminal state
	Output string

	// FinalState is the state the machine stopped in
	FinalState string

	// Transitions is the ordered transition history, including self
	// transitions recorded for Stay directives
	Transitions []StateTransition

	// State is the final run state, partial on failure
	State RunState

	// Err is set when Reason is ReasonError
	Err error
}

// StateMachineLoop drives named states with registered handlers. States
// named initial, running and awaiting_evaluation carry built-in behavior
// unless a handler overrides them; complete and failed are always terminal.
type StateMachineLoop struct {
	cfg      MachineConfig
	deps     MachineDeps
	states   map[string]AgentState
	handlers map[string]StateHandler
	start    string
	abort    atomic.Bool
	log      *logger.Logger
}

// NewStateMachineLoop validates the configuration and constructs a machine
// starting in the initial state, with the built-in states pre-registered.
func NewStateMachineLoop(cfg MachineConfig, deps MachineDeps) (*StateMachineLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &StateMachineLoop{
		cfg:      cfg,
		deps:     deps,
		states:   make(map[string]AgentState),
		handlers: make(map[string]StateHandler),
		start:    StateInitial,
		log:      logger.Global().WithPrefix("statemachine"),
	}
	m.states[StateInitial] = AgentState{Name: StateInitial}
	m.states[StateRunning] = AgentState{Name: StateRunning}
	m.states[StateAwaitingEvaluation] = AgentState{Name: StateAwaitingEvaluation}
	m.states[StateComplete] = AgentState{Name: StateComplete, Terminal: true}
	m.states[StateFailed] = AgentState{Name: StateFailed, Terminal: true}
	return m, nil
}

// RegisterState adds or replaces a state and its handler. Registering a
// built-in state name overrides its built-in behavior.
func (m *StateMachineLoop) RegisterState(state AgentState, handler StateHandler) error {
	if state.Name == "" {
		return fmt.Errorf("state machine: state name must not be empty")
	}
	m.states[state.Name] = state
	if handler != nil {
		m.handlers[state.Name] = handler
	}
	return nil
}

// SetStartState overrides the starting state. The state does not have to be
// registered yet.
func (m *StateMachineLoop) SetStartState(name string) {
	if name != "" {
		m.start = name
	}
}

// RequestAbort sets the cooperative abort flag, honored between iterations.
func (m *StateMachineLoop) RequestAbort() {
	m.abort.Store(true)
}

// Execute runs the machine until a terminal state, an error, or a budget
// limit. An unregistered current state without built-in behavior stays put
// each iteration until MaxIterations fires.
func (m *StateMachineLoop) Execute(ctx context.Context) *MachineResult {
	runID := uuid.NewString()
	state := NewRunState(runID)
	result := &MachineResult{RunID: runID, FinalState: m.start}

	current := m.start
	lastOutput := ""

	m.log.Info("run %s started (start=%s max_iterations=%d)", runID, current, m.cfg.MaxIterations)
	dispatch(m.deps.Listeners, Event{Type: EventLoopStarted, RunID: runID, Kind: "state_machine", State: state})

	for iteration := 1; ; iteration++ {
		if m.abort.Load() || ctx.Err() != nil {
			state = state.Abort()
			return m.finish(result, state, current, lastOutput, ReasonAborted, "abort requested", nil)
		}
		if m.states[current].Terminal {
			return m.finish(result, state, current, lastOutput, ReasonStateTerminal,
				fmt.Sprintf("reached terminal state %q", current), nil)
		}
		if state.TimeoutExceeded(m.cfg.Timeout) {
			return m.finish(result, state, current, lastOutput, ReasonTimeout,
				fmt.Sprintf("exceeded timeout of %s", m.cfg.Timeout), nil)
		}
		if iteration > m.cfg.MaxIterations {
			return m.finish(result, state, current, lastOutput, ReasonMaxIterations,
				fmt.Sprintf("reached maximum of %d iterations in state %q", m.cfg.MaxIterations, current), nil)
		}

		started := time.Now()
		turn := &Turn{
			RunID:        runID,
			Iteration:    iteration,
			State:        state,
			Current:      current,
			LastOutput:   lastOutput,
			Conversation: m.deps.Conversation,
		}

		directive, err := m.step(ctx, turn)
		if err != nil {
			m.log.Error("run %s: state %q failed at iteration %d: %v", runID, current, iteration, err)
			return m.finish(result, state, current, lastOutput, ReasonError,
				fmt.Sprintf("state %q failed", current), err)
		}
		if directive.output != "" {
			lastOutput = directive.output
			tokens := llm.EstimateTokenCount(m.deps.ModelID, directive.output)
			cost := 0.0
			if m.cfg.CostPerKiloTokens > 0 {
				cost = float64(tokens) / 1000 * m.cfg.CostPerKiloTokens
			}
			state = state.CompleteStep(tokens, cost, false, Signature(directive.output))
		}

		next, reason := m.resolve(current, directive)

		transition := StateTransition{
			Iteration: iteration,
			From:      current,
			To:        next,
			Output:    lastOutput,
			Duration:  time.Since(started),
			Reason:    reason,
		}
		result.Transitions = append(result.Transitions, transition)
		dispatch(m.deps.Listeners, Event{
			Type:       EventTransitionRecorded,
			RunID:      runID,
			Kind:       "state_machine",
			State:      state,
			Transition: &transition,
		})

		current = next
		if current == StateFailed {
			return m.finish(result, state, current, lastOutput, ReasonError, directive.message,
				fmt.Errorf("state machine failed: %s", directive.message))
		}
	}
}

// step runs one iteration in the current state: a registered handler if one
// exists, otherwise the built-in behavior, otherwise Stay.
func (m *StateMachineLoop) step(ctx context.Context, turn *Turn) (Directive, error) {
	if handler, ok := m.handlers[turn.Current]; ok {
		return handler(ctx, turn)
	}

	switch turn.Current {
	case StateInitial:
		return TransitionTo(StateRunning, ""), nil

	case StateRunning:
		if m.deps.Generator == nil {
			return Stay(""), fmt.Errorf("running state requires a generator")
		}
		conv := m.deps.Conversation
		if conv == nil {
			conv = NewTranscript("")
			m.deps.Conversation = conv
		}
		gen, err := m.deps.Generator.Generate(ctx, conv, m.cfg.Tools)
		if err != nil {
			return Stay(""), err
		}
		if m.deps.Jury != nil {
			return TransitionTo(StateAwaitingEvaluation, gen.Text), nil
		}
		return Complete(gen.Text), nil

	case StateAwaitingEvaluation:
		// Evaluation outcomes are resolved here, not inside handlers: a
		// passing verdict completes the run, a failing one returns to
		// running for another attempt.
		if m.deps.Jury == nil {
			return Complete(turn.LastOutput), nil
		}
		verdict, err := m.deps.Jury.Evaluate(ctx, turn.State, turn.LastOutput, m.deps.Workspace)
		if err != nil {
			return Stay(""), err
		}
		if verdict != nil && (verdict.Passed || verdict.Score >= m.cfg.ScoreThreshold) {
			return Complete(turn.LastOutput), nil
		}
		return TransitionTo(StateRunning, ""), nil

	default:
		m.log.Warn("run %s: no handler for state %q, staying", turn.RunID, turn.Current)
		return Stay(""), nil
	}
}

// resolve maps a directive to the next state name, enforcing the current
// state's allowed transitions. An illegal transition is logged and ignored;
// the machine stays in the current state.
func (m *StateMachineLoop) resolve(current string, directive Directive) (string, string) {
	from := m.states[current]

	switch directive.kind {
	case directiveTransition:
		target := directive.target
		if _, ok := m.states[target]; !ok {
			m.log.Warn("transition from %q to unregistered state %q ignored", current, target)
			return current, "unregistered target"
		}
		if !from.allows(target) {
			m.log.Warn("illegal transition from %q to %q ignored", current, target)
			return current, "illegal transition"
		}
		return target, "transition"

	case directiveComplete:
		if !from.allows(StateComplete) {
			m.log.Warn("illegal transition from %q to %q ignored", current, StateComplete)
			return current, "illegal transition"
		}
		return StateComplete, "complete"

	case directiveFail:
		return StateFailed, "fail"

	default:
		return current, "stay"
	}
}

func (m *StateMachineLoop) finish(result *MachineResult, state RunState, current, output string, reason Reason, message string, err error) *MachineResult {
	result.Reason = reason
	result.Message = message
	result.Output = output
	result.FinalState = current
	result.State = state
	result.Err = err
	result.Success = reason.Success()

	eventType := EventLoopCompleted
	if err != nil {
		eventType = EventLoopFailed
	}
	dispatch(m.deps.Listeners, Event{
		Type:   eventType,
		RunID:  state.RunID(),
		Kind:   "state_machine",
		State:  state,
		Reason: reason,
		Err:    err,
	})

	m.log.Info("run %s finished: reason=%s state=%s transitions=%d",
		state.RunID(), reason, current, len(result.Transitions))
	return result
}
