package loop

// Reason is the closed enumeration of termination reasons. Exactly one
// applies to a finished run.
type Reason string

const (
	// ReasonNotTerminated marks a run still in progress.
	ReasonNotTerminated Reason = "not_terminated"

	// ReasonMaxSteps indicates the turn budget was exhausted.
	ReasonMaxSteps Reason = "max_steps_reached"

	// ReasonMaxIterations indicates a trial or state-machine iteration
	// budget was exhausted.
	ReasonMaxIterations Reason = "max_iterations_reached"

	// ReasonStuck indicates stagnation was detected.
	ReasonStuck Reason = "stagnation_detected"

	// ReasonTimeout indicates the wall-clock budget was exceeded.
	ReasonTimeout Reason = "timeout"

	// ReasonCostLimit indicates the cost budget was exceeded.
	ReasonCostLimit Reason = "cost_limit_exceeded"

	// ReasonAborted indicates an external abort signal was honored.
	ReasonAborted Reason = "abort_requested"

	// ReasonFinishSignaled indicates the model invoked the reserved
	// finish action.
	ReasonFinishSignaled Reason = "finish_signaled"

	// ReasonNaturalCompletion indicates the model stopped requesting
	// actions on its own.
	ReasonNaturalCompletion Reason = "natural_completion"

	// ReasonScoreThreshold indicates a passing or above-threshold verdict.
	ReasonScoreThreshold Reason = "score_threshold_met"

	// ReasonStateTerminal indicates a terminal state was reached.
	ReasonStateTerminal Reason = "state_terminal"

	// ReasonWorkflowComplete indicates a graph execution reached its
	// finish node.
	ReasonWorkflowComplete Reason = "workflow_complete"

	// ReasonError indicates a collaborator failure ended the run.
	ReasonError Reason = "error"
)

// Success reports whether the reason represents a successful outcome rather
// than a failure or budget exhaustion.
func (r Reason) Success() bool {
	switch r {
	case ReasonFinishSignaled, ReasonNaturalCompletion, ReasonScoreThreshold,
		ReasonStateTerminal, ReasonWorkflowComplete:
		return true
	default:
		return false
	}
}

// Decision is the tagged result of a termination check: either continue or
// terminate with a reason and message. Returning it from every check forces
// callers to handle both outcomes explicitly instead of signaling early
// exit through panics.
type Decision struct {
	Terminate bool
	Reason    Reason
	Message   string
}

// Continue returns the in-progress decision.
func Continue() Decision {
	return Decision{Reason: ReasonNotTerminated}
}

// Terminate returns a terminating decision with the given reason.
func Terminate(reason Reason, message string) Decision {
	return Decision{Terminate: true, Reason: reason, Message: message}
}
