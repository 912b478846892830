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

// TrialRecord captures one generate-evaluate-reflect cycle.
type TrialRecord struct {
	Trial      int
	Output     string
	Score      float64
	Passed     bool
	Reflection string
	Duration   time.Duration
}

// EvalConfig configures an EvaluatorOptimizerLoop.
type EvalConfig struct {
	// MaxTrials is the trial budget (default: 5)
	MaxTrials int

	// Timeout bounds wall-clock time for the whole run (0 disables)
	Timeout time.Duration

	// ScoreThreshold terminates the run when a verdict scores at or above it
	ScoreThreshold float64

	// StuckThreshold is the score-window size for stagnation detection
	// (0 disables)
	StuckThreshold int

	// ImprovementDelta is the minimum max-score improvement over the
	// stagnation window
	ImprovementDelta float64

	// FinishToolName is the reserved finish tool name
	FinishToolName string

	// CostPerKiloTokens converts token usage into estimated cost
	CostPerKiloTokens float64
}

// DefaultEvalConfig returns an EvalConfig with sensible defaults.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxTrials:        5,
		ScoreThreshold:   0.9,
		StuckThreshold:   3,
		ImprovementDelta: 0.01,
		FinishToolName:   DefaultFinishToolName,
	}
}

// Validate reports the first configuration problem, if any.
func (c EvalConfig) Validate() error {
	if c.MaxTrials < 1 {
		return fmt.Errorf("eval config: MaxTrials must be >= 1, got %d", c.MaxTrials)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("eval config: ScoreThreshold must be in [0, 1], got %f", c.ScoreThreshold)
	}
	if c.StuckThreshold < 0 {
		return fmt.Errorf("eval config: StuckThreshold must be >= 0, got %d", c.StuckThreshold)
	}
	if c.ImprovementDelta < 0 {
		return fmt.Errorf("eval config: ImprovementDelta must be >= 0, got %f", c.ImprovementDelta)
	}
	return nil
}

// EvalDeps carries the collaborators for an EvaluatorOptimizerLoop.
type EvalDeps struct {
	// Optimizer is required
	Optimizer Optimizer

	// Jury is optional; nil disables score-based termination and leaves
	// every trial unscored
	Jury Jury

	// Workspace is passed through to the jury
	Workspace string

	// ModelID is used for token estimation when the optimizer reports no
	// usage data
	ModelID string

	// Listeners receive lifecycle events
	Listeners []Listener
}

// EvalResult is the structured outcome of an evaluator-optimizer run.
type EvalResult struct {
	RunID   string
	Reason  Reason
	Message string
	Success bool

	// Trials is the ordered trial history
	Trials []TrialRecord

	// Best is the highest-scoring trial so far, retained even when a later
	// trial scores lower
	Best *TrialRecord

	// BestReflection is the reflection that seeded the best trial
	BestReflection string

	// State is the final run state, partial on failure
	State RunState

	// Err is set when Reason is ReasonError
	Err error
}

// EvaluatorOptimizerLoop drives a generate-evaluate-reflect trial sequence
// with score tracking and stagnation detection. Trials run strictly
// sequentially; each trial's reflection seeds the next.
type EvaluatorOptimizerLoop struct {
	cfg   EvalConfig
	deps  EvalDeps
	abort atomic.Bool
	log   *logger.Logger
}

// NewEvaluatorOptimizerLoop validates the configuration and constructs the
// loop.
func NewEvaluatorOptimizerLoop(cfg EvalConfig, deps EvalDeps) (*EvaluatorOptimizerLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Optimizer == nil {
		return nil, fmt.Errorf("evaluator loop: optimizer is required")
	}
	return &EvaluatorOptimizerLoop{
		cfg:  cfg,
		deps: deps,
		log:  logger.Global().WithPrefix("evalloop"),
	}, nil
}

// RequestAbort sets the cooperative abort flag, honored between trials.
func (l *EvaluatorOptimizerLoop) RequestAbort() {
	l.abort.Store(true)
}

// Execute runs the trial sequence to completion and returns a structured
// result.
func (l *EvaluatorOptimizerLoop) Execute(ctx context.Context) *EvalResult {
	runID := uuid.NewString()
	state := NewRunState(runID)
	result := &EvalResult{RunID: runID}

	l.log.Info("run %s started (max_trials=%d)", runID, l.cfg.MaxTrials)
	dispatch(l.deps.Listeners, Event{Type: EventLoopStarted, RunID: runID, Kind: "evaluator", State: state})

	reflection := ""
	scores := make([]float64, 0, l.cfg.MaxTrials)

	for trial := 1; trial <= l.cfg.MaxTrials; trial++ {
		if l.abort.Load() || ctx.Err() != nil {
			state = state.Abort()
			return l.finish(result, state, ReasonAborted, "abort requested", nil)
		}

		started := time.Now()
		dispatch(l.deps.Listeners, Event{Type: EventStepStarted, RunID: runID, Kind: "evaluator", State: state})

		gen, err := l.deps.Optimizer.Produce(ctx, trial, reflection)
		if err != nil {
			l.log.Error("run %s: actor failed at trial %d: %v", runID, trial, err)
			return l.finish(result, state, ReasonError, "actor failed", err)
		}

		tokens := gen.TokensUsed
		if tokens <= 0 {
			tokens = llm.EstimateTokenCount(l.deps.ModelID, gen.Text)
		}
		cost := 0.0
		if l.cfg.CostPerKiloTokens > 0 {
			cost = float64(tokens) / 1000 * l.cfg.CostPerKiloTokens
		}
		state = state.CompleteStep(tokens, cost, false, Signature(gen.Text))

		verdict, err := l.evaluate(ctx, state, gen.Text)
		if err != nil {
			return l.finish(result, state, ReasonError, "evaluation failed", err)
		}

		record := TrialRecord{
			Trial:    trial,
			Output:   gen.Text,
			Duration: time.Since(started),
		}
		if verdict != nil {
			record.Score = verdict.Score
			record.Passed = verdict.Passed
		}
		scores = append(scores, record.Score)
		seedReflection := reflection

		// Post-trial checks, in order: finish signal, timeout, threshold,
		// stagnation, then budget exhaustion via the loop condition.
		terminal := Continue()
		switch {
		case gen.HasToolCall(l.finishToolName()):
			terminal = Terminate(ReasonFinishSignaled, "finish tool invoked")
		case state.TimeoutExceeded(l.cfg.Timeout):
			terminal = Terminate(ReasonTimeout, fmt.Sprintf("exceeded timeout of %s", l.cfg.Timeout))
		case l.deps.Jury == nil:
			// No jury means no scores; every score-based check stays off.
		default:
			terminal = VerdictPassed(l.cfg.ScoreThreshold)(state, verdict)
			if !terminal.Terminate && scoreStagnated(scores, l.cfg.StuckThreshold, l.cfg.ImprovementDelta) {
				terminal = Terminate(ReasonStuck,
					fmt.Sprintf("no score improvement over the last %d trials", l.cfg.StuckThreshold))
			}
		}

		// Reflection is skipped on the final trial and after termination.
		if !terminal.Terminate && trial < l.cfg.MaxTrials {
			reflection, err = l.deps.Optimizer.Reflect(ctx, trial, gen.Text, verdict)
			if err != nil {
				l.log.Error("run %s: reflector failed at trial %d: %v", runID, trial, err)
				result.Trials = append(result.Trials, record)
				return l.finish(result, state, ReasonError, "reflector failed", err)
			}
			record.Reflection = reflection
		}

		result.Trials = append(result.Trials, record)

		// Best-so-far: highest score wins, earlier trial wins ties.
		if result.Best == nil || record.Score > result.Best.Score {
			best := record
			result.Best = &best
			result.BestReflection = seedReflection
		}

		dispatch(l.deps.Listeners, Event{
			Type:  EventTrialRecorded,
			RunID: runID,
			Kind:  "evaluator",
			State: state,
			Trial: &record,
		})

		if terminal.Terminate {
			return l.finish(result, state, terminal.Reason, terminal.Message, nil)
		}
	}

	return l.finish(result, state, ReasonMaxIterations,
		fmt.Sprintf("trial budget of %d exhausted", l.cfg.MaxTrials), nil)
}

func (l *EvaluatorOptimizerLoop) evaluate(ctx context.Context, state RunState, output string) (*Verdict, error) {
	if l.deps.Jury == nil {
		return nil, nil
	}
	verdict, err := l.deps.Jury.Evaluate(ctx, state, output, l.deps.Workspace)
	if err != nil {
		l.log.Error("run %s: jury failed at trial %d: %v", state.RunID(), state.CurrentStep(), err)
		return nil, err
	}
	return verdict, nil
}

// scoreStagnated reports whether the maximum score over the last window
// trials failed to improve by at least delta relative to the maximum score
// seen before the window.
func scoreStagnated(scores []float64, window int, delta float64) bool {
	if window <= 0 || len(scores) <= window {
		return false
	}

	maxRecent := maxOf(scores[len(scores)-window:])
	maxPrior := maxOf(scores[:len(scores)-window])
	return maxRecent < maxPrior+delta
}

func maxOf(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func (l *EvaluatorOptimizerLoop) finish(result *EvalResult, state RunState, reason Reason, message string, err error) *EvalResult {
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
		Kind:   "evaluator",
		State:  state,
		Reason: reason,
		Err:    err,
	})

	l.log.Info("run %s finished: reason=%s trials=%d tokens=%d",
		state.RunID(), reason, len(result.Trials), state.TotalTokensUsed())
	return result
}

func (l *EvaluatorOptimizerLoop) finishToolName() string {
	if l.cfg.FinishToolName == "" {
		return DefaultFinishToolName
	}
	return l.cfg.FinishToolName
}
