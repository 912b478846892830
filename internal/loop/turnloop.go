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

// DefaultFinishToolName is the reserved tool name whose invocation means
// "task complete".
const DefaultFinishToolName = "finish"

// TurnConfig configures a TurnLimitedLoop. Values are fixed at construction
// time; validation happens once in NewTurnLimitedLoop.
type TurnConfig struct {
	// MaxSteps is the turn budget (default: 32)
	MaxSteps int

	// Timeout bounds wall-clock time for the whole run (0 disables)
	Timeout time.Duration

	// CostLimit bounds accumulated estimated cost (0 disables)
	CostLimit float64

	// StuckThreshold is the consecutive-repeat count that counts as
	// stagnation (0 disables)
	StuckThreshold int

	// EvaluateEvery triggers a jury evaluation every Nth step (0 disables)
	EvaluateEvery int

	// ScoreThreshold terminates the run when a verdict scores at or above
	// it (used only when a jury is configured)
	ScoreThreshold float64

	// FinishToolName is the reserved finish tool name
	FinishToolName string

	// CostPerKiloTokens converts token usage into estimated cost
	CostPerKiloTokens float64

	// Tools are offered to the generation collaborator each step
	Tools []llm.ToolSpec
}

// DefaultTurnConfig returns a TurnConfig with sensible defaults.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		MaxSteps:       32,
		StuckThreshold: 3,
		ScoreThreshold: 1.0,
		FinishToolName: DefaultFinishToolName,
	}
}

// Validate reports the first configuration problem, if any.
func (c TurnConfig) Validate() error {
	if c.MaxSteps < 1 {
		return fmt.Errorf("turn config: MaxSteps must be >= 1, got %d", c.MaxSteps)
	}
	if c.EvaluateEvery < 0 {
		return fmt.Errorf("turn config: EvaluateEvery must be >= 0, got %d", c.EvaluateEvery)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("turn config: ScoreThreshold must be in [0, 1], got %f", c.ScoreThreshold)
	}
	if c.StuckThreshold < 0 {
		return fmt.Errorf("turn config: StuckThreshold must be >= 0, got %d", c.StuckThreshold)
	}
	return nil
}

// TurnDeps carries the collaborators for a TurnLimitedLoop.
type TurnDeps struct {
	// Generator is required
	Generator Generator

	// Conversation is the transcript; a fresh Transcript is used when nil
	Conversation Conversation

	// Jury is optional; nil disables score-based termination
	Jury Jury

	// Workspace is passed through to the jury
	Workspace string

	// ModelID is used for token estimation when the generator reports no
	// usage data
	ModelID string

	// Listeners receive lifecycle events
	Listeners []Listener
}

// TurnResult is the structured outcome of a turn-limited run. Collaborator
// failures are folded into it rather than propagated.
type TurnResult struct {
	RunID   string
	Reason  Reason
	Message string
	Success bool

	// Output is the last generated text
	Output string

	// State is the final run state, partial on failure
	State RunState

	// Verdict is the last jury verdict, if any
	Verdict *Verdict

	// Err is set when Reason is ReasonError
	Err error
}

// TurnLimitedLoop drives a bounded sequence of generate/act turns until a
// termination condition fires.
type TurnLimitedLoop struct {
	cfg     TurnConfig
	deps    TurnDeps
	preStep Strategy
	abort   atomic.Bool
	log     *logger.Logger
}

// NewTurnLimitedLoop validates the configuration and constructs the loop.
func NewTurnLimitedLoop(cfg TurnConfig, deps TurnDeps) (*TurnLimitedLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("turn loop: generator is required")
	}
	if deps.Conversation == nil {
		deps.Conversation = NewTranscript("")
	}

	// Fixed pre-step priority: abort, max steps, timeout, cost, stagnation.
	preStep := AllOf(
		AbortSignal(),
		MaxSteps(cfg.MaxSteps),
		Timeout(cfg.Timeout),
		CostLimit(cfg.CostLimit),
		StuckDetection(cfg.StuckThreshold),
	)

	return &TurnLimitedLoop{
		cfg:     cfg,
		deps:    deps,
		preStep: preStep,
		log:     logger.Global().WithPrefix("turnloop"),
	}, nil
}

// RequestAbort sets the cooperative abort flag. It is honored at the next
// step boundary; an in-flight generation call completes first.
func (l *TurnLimitedLoop) RequestAbort() {
	l.abort.Store(true)
}

// Execute runs the loop to completion and returns a structured result.
// Collaborator failures never propagate as errors; they terminate the run
// with ReasonError and the partial state accumulated so far.
func (l *TurnLimitedLoop) Execute(ctx context.Context) *TurnResult {
	runID := uuid.NewString()
	state := NewRunState(runID)
	result := &TurnResult{RunID: runID}

	l.log.Info("run %s started (max_steps=%d)", runID, l.cfg.MaxSteps)
	dispatch(l.deps.Listeners, Event{Type: EventLoopStarted, RunID: runID, Kind: "turn", State: state})

	for {
		if l.abort.Load() || ctx.Err() != nil {
			state = state.Abort()
		}

		if decision := l.preStep(state, nil); decision.Terminate {
			return l.finish(result, state, decision.Reason, decision.Message, nil)
		}

		dispatch(l.deps.Listeners, Event{Type: EventStepStarted, RunID: runID, Kind: "turn", State: state})

		gen, err := l.deps.Generator.Generate(ctx, l.deps.Conversation, l.cfg.Tools)
		if err != nil {
			l.log.Error("run %s: generation failed at step %d: %v", runID, state.CurrentStep()+1, err)
			return l.finish(result, state, ReasonError, "generation failed", err)
		}

		hadAction := len(gen.ToolCalls) > 0
		result.Output = gen.Text

		// No requested actions: the model considers the task done. Checked
		// before the step is recorded.
		if !hadAction {
			return l.finish(result, state, ReasonNaturalCompletion, "no actions requested", nil)
		}

		// The finish signal wins over any other action in the same step.
		if gen.HasToolCall(l.finishToolName()) {
			return l.finish(result, state, ReasonFinishSignaled, "finish tool invoked", nil)
		}

		tokens := l.tokensFor(gen)
		state = state.CompleteStep(tokens, l.costFor(tokens), hadAction, Signature(gen.Text))
		snap, _ := state.LastStep()
		dispatch(l.deps.Listeners, Event{Type: EventStepCompleted, RunID: runID, Kind: "turn", State: state, Step: snap})

		if terminated, res := l.maybeEvaluate(ctx, result, &state); terminated {
			return res
		}
	}
}

// maybeEvaluate runs the jury every Nth step. It returns (true, result)
// when the run terminated, either on a passing verdict or a jury failure.
func (l *TurnLimitedLoop) maybeEvaluate(ctx context.Context, result *TurnResult, state *RunState) (bool, *TurnResult) {
	if l.deps.Jury == nil || l.cfg.EvaluateEvery <= 0 {
		return false, nil
	}
	if state.CurrentStep()%l.cfg.EvaluateEvery != 0 {
		return false, nil
	}

	verdict, err := l.deps.Jury.Evaluate(ctx, *state, result.Output, l.deps.Workspace)
	if err != nil {
		l.log.Error("run %s: jury failed at step %d: %v", state.RunID(), state.CurrentStep(), err)
		return true, l.finish(result, *state, ReasonError, "evaluation failed", err)
	}

	result.Verdict = verdict
	if decision := VerdictPassed(l.cfg.ScoreThreshold)(*state, verdict); decision.Terminate {
		return true, l.finish(result, *state, decision.Reason, decision.Message, nil)
	}
	return false, nil
}

func (l *TurnLimitedLoop) finish(result *TurnResult, state RunState, reason Reason, message string, err error) *TurnResult {
	result.Reason = reason
	result.Message = message
	result.State = state
	result.Err = err
	result.Success = reason.Success()

	eventType := EventLoopCompleted
	if err != nil {
		eventType = EventLoopFailed
	}
	dispatch(l.deps.Listeners, Event{
		Type:   eventType,
		RunID:  state.RunID(),
		Kind:   "turn",
		State:  state,
		Reason: reason,
		Err:    err,
	})

	l.log.Info("run %s finished: reason=%s steps=%d tokens=%d cost=%.4f",
		state.RunID(), reason, state.CurrentStep(), state.TotalTokensUsed(), state.EstimatedCost())
	return result
}

func (l *TurnLimitedLoop) tokensFor(gen *Generation) int {
	if gen.TokensUsed > 0 {
		return gen.TokensUsed
	}
	return llm.EstimateTokenCount(l.deps.ModelID, gen.Text)
}

func (l *TurnLimitedLoop) costFor(tokens int) float64 {
	if l.cfg.CostPerKiloTokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * l.cfg.CostPerKiloTokens
}

func (l *TurnLimitedLoop) finishToolName() string {
	if l.cfg.FinishToolName == "" {
		return DefaultFinishToolName
	}
	return l.cfg.FinishToolName
}
