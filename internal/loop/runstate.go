package loop

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// StepSnapshot records the bookkeeping for one completed step.
type StepSnapshot struct {
	// Step is the 1-based index of the step within the run.
	Step int

	// TokensUsed is the token count attributed to this step.
	TokensUsed int

	// Cost is the estimated cost attributed to this step.
	Cost float64

	// HadAction is true if the step performed a tool/action call.
	HadAction bool

	// Signature is a hash of the generated output, used for stagnation
	// detection.
	Signature uint64
}

// RunState is an immutable snapshot of one execution's progress. It is
// replaced on each step via CompleteStep, never mutated in place, so a
// captured value stays valid after the loop moves on.
type RunState struct {
	runID          string
	currentStep    int
	startedAt      time.Time
	totalTokens    int
	estimatedCost  float64
	abortRequested bool
	history        []StepSnapshot
	repeatCount    int
}

// NewRunState creates the initial state for a run. The run ID is assigned
// once here and never changes.
func NewRunState(runID string) RunState {
	return RunState{
		runID:     runID,
		startedAt: time.Now(),
	}
}

// Signature hashes generated output for stagnation detection.
func Signature(text string) uint64 {
	return xxhash.Sum64String(text)
}

// CompleteStep appends a snapshot for the step that just finished and
// returns the advanced state. The consecutive-repeat counter is recomputed
// from the history tail: a step that performed an action resets it to zero
// (tool-driven steps are assumed productive even if textual output
// repeats); otherwise contiguous prior no-action steps with an identical
// signature are counted, starting at 1 for the current step.
func (s RunState) CompleteStep(tokensUsed int, cost float64, hadAction bool, signature uint64) RunState {
	snap := StepSnapshot{
		Step:       s.currentStep + 1,
		TokensUsed: tokensUsed,
		Cost:       cost,
		HadAction:  hadAction,
		Signature:  signature,
	}

	history := make([]StepSnapshot, len(s.history), len(s.history)+1)
	copy(history, s.history)
	history = append(history, snap)

	next := s
	next.currentStep = s.currentStep + 1
	next.totalTokens = s.totalTokens + tokensUsed
	next.estimatedCost = s.estimatedCost + cost
	next.history = history
	next.repeatCount = recomputeRepeatCount(history)
	return next
}

func recomputeRepeatCount(history []StepSnapshot) int {
	if len(history) == 0 {
		return 0
	}

	last := history[len(history)-1]
	if last.HadAction {
		return 0
	}

	count := 1
	for i := len(history) - 2; i >= 0; i-- {
		prior := history[i]
		if prior.HadAction || prior.Signature != last.Signature {
			break
		}
		count++
	}
	return count
}

// Abort returns a copy with the abort flag set. The loops check the flag
// only at step boundaries; an in-flight collaborator call always completes
// first.
func (s RunState) Abort() RunState {
	next := s
	next.abortRequested = true
	return next
}

// RunID returns the opaque run identifier.
func (s RunState) RunID() string { return s.runID }

// CurrentStep returns the number of completed steps.
func (s RunState) CurrentStep() int { return s.currentStep }

// StartedAt returns the wall-clock start of the run.
func (s RunState) StartedAt() time.Time { return s.startedAt }

// TotalTokensUsed returns the monotonic token accumulator.
func (s RunState) TotalTokensUsed() int { return s.totalTokens }

// EstimatedCost returns the monotonic cost accumulator.
func (s RunState) EstimatedCost() float64 { return s.estimatedCost }

// AbortRequested reports whether an abort was requested.
func (s RunState) AbortRequested() bool { return s.abortRequested }

// ConsecutiveRepeatCount returns the stagnation counter derived from the
// history tail.
func (s RunState) ConsecutiveRepeatCount() int { return s.repeatCount }

// History returns a copy of the append-only step history.
func (s RunState) History() []StepSnapshot {
	return append([]StepSnapshot(nil), s.history...)
}

// LastStep returns the most recent snapshot, or false when no step has
// completed yet.
func (s RunState) LastStep() (StepSnapshot, bool) {
	if len(s.history) == 0 {
		return StepSnapshot{}, false
	}
	return s.history[len(s.history)-1], true
}

// IsStuck reports whether the repeat counter has reached the threshold.
func (s RunState) IsStuck(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return s.repeatCount >= threshold
}

// CostExceeded reports whether accumulated cost strictly exceeds a positive
// limit. A non-positive limit disables the check.
func (s RunState) CostExceeded(limit float64) bool {
	return limit > 0 && s.estimatedCost > limit
}

// TimeoutExceeded reports whether wall-clock elapsed time exceeds the
// timeout. A non-positive timeout disables the check.
func (s RunState) TimeoutExceeded(timeout time.Duration) bool {
	return timeout > 0 && time.Since(s.startedAt) > timeout
}

// MaxStepsReached reports whether the completed step count has reached max.
func (s RunState) MaxStepsReached(max int) bool {
	return max > 0 && s.currentStep >= max
}
