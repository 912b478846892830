package loop

import (
	"fmt"
	"time"
)

// Strategy is a termination predicate over the current run state and, when
// evaluation is configured, the latest verdict (nil otherwise).
type Strategy func(state RunState, verdict *Verdict) Decision

// MaxSteps terminates once the completed step count reaches n.
func MaxSteps(n int) Strategy {
	return func(state RunState, _ *Verdict) Decision {
		if state.MaxStepsReached(n) {
			return Terminate(ReasonMaxSteps, fmt.Sprintf("reached maximum of %d steps", n))
		}
		return Continue()
	}
}

// Timeout terminates once wall-clock elapsed time exceeds d.
func Timeout(d time.Duration) Strategy {
	return func(state RunState, _ *Verdict) Decision {
		if state.TimeoutExceeded(d) {
			return Terminate(ReasonTimeout, fmt.Sprintf("exceeded timeout of %s", d))
		}
		return Continue()
	}
}

// CostLimit terminates once accumulated cost strictly exceeds a positive
// limit. A non-positive limit never fires.
func CostLimit(limit float64) Strategy {
	return func(state RunState, _ *Verdict) Decision {
		if state.CostExceeded(limit) {
			return Terminate(ReasonCostLimit,
				fmt.Sprintf("estimated cost %.4f exceeded limit %.4f", state.EstimatedCost(), limit))
		}
		return Continue()
	}
}

// StuckDetection terminates once the consecutive-repeat counter reaches the
// threshold.
func StuckDetection(threshold int) Strategy {
	return func(state RunState, _ *Verdict) Decision {
		if state.IsStuck(threshold) {
			return Terminate(ReasonStuck,
				fmt.Sprintf("output repeated %d consecutive times", state.ConsecutiveRepeatCount()))
		}
		return Continue()
	}
}

// AbortSignal terminates when the run state carries an abort request.
func AbortSignal() Strategy {
	return func(state RunState, _ *Verdict) Decision {
		if state.AbortRequested() {
			return Terminate(ReasonAborted, "abort requested")
		}
		return Continue()
	}
}

// VerdictPassed terminates on a passing verdict or a score at or above the
// threshold. Without a verdict it never fires.
func VerdictPassed(threshold float64) Strategy {
	return func(_ RunState, verdict *Verdict) Decision {
		if verdict == nil {
			return Continue()
		}
		if verdict.Passed || verdict.Score >= threshold {
			return Terminate(ReasonScoreThreshold,
				fmt.Sprintf("verdict score %.2f (passed=%t)", verdict.Score, verdict.Passed))
		}
		return Continue()
	}
}

// AllOf evaluates strategies in the given order and returns the first
// terminating decision. Order is significant and caller-controlled; there
// is no implicit priority.
func AllOf(strategies ...Strategy) Strategy {
	return func(state RunState, verdict *Verdict) Decision {
		for _, strategy := range strategies {
			if strategy == nil {
				continue
			}
			if decision := strategy(state, verdict); decision.Terminate {
				return decision
			}
		}
		return Continue()
	}
}
