package loop

import (
	"testing"
	"time"
)

func TestCompleteStepAccumulates(t *testing.T) {
	state := NewRunState("run-1")

	for i := 0; i < 3; i++ {
		state = state.CompleteStep(100, 0.01, true, Signature("output"))
	}

	if state.CurrentStep() != 3 {
		t.Errorf("expected 3 completed steps, got %d", state.CurrentStep())
	}
	if state.TotalTokensUsed() != 300 {
		t.Errorf("expected 300 total tokens, got %d", state.TotalTokensUsed())
	}
	if state.ConsecutiveRepeatCount() != 0 {
		t.Errorf("expected repeat count 0 for action steps, got %d", state.ConsecutiveRepeatCount())
	}
	if len(state.History()) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(state.History()))
	}
}

func TestRunStateImmutability(t *testing.T) {
	before := NewRunState("run-1").CompleteStep(10, 0, false, Signature("a"))
	after := before.CompleteStep(20, 0, false, Signature("b"))

	if before.CurrentStep() != 1 {
		t.Errorf("captured state changed: step %d", before.CurrentStep())
	}
	if before.TotalTokensUsed() != 10 {
		t.Errorf("captured state changed: tokens %d", before.TotalTokensUsed())
	}
	if after.CurrentStep() != 2 {
		t.Errorf("advanced state wrong: step %d", after.CurrentStep())
	}
	if before.AbortRequested() {
		t.Error("fresh state should not carry an abort flag")
	}
	if !before.Abort().AbortRequested() {
		t.Error("Abort should set the flag on the copy")
	}
}

func TestConsecutiveRepeatCount(t *testing.T) {
	sigA := Signature("same output")
	sigB := Signature("different output")

	t.Run("three identical no-action steps", func(t *testing.T) {
		state := NewRunState("run-1")
		for i := 0; i < 3; i++ {
			state = state.CompleteStep(1, 0, false, sigA)
		}
		if state.ConsecutiveRepeatCount() != 3 {
			t.Errorf("expected repeat count 3, got %d", state.ConsecutiveRepeatCount())
		}
		if !state.IsStuck(3) {
			t.Error("expected IsStuck(3) to fire")
		}
	})

	t.Run("interleaved signature resets the tail", func(t *testing.T) {
		// A, B, A, A: the B breaks the chain, so the count is 2.
		state := NewRunState("run-1")
		state = state.CompleteStep(1, 0, false, sigA)
		state = state.CompleteStep(1, 0, false, sigB)
		state = state.CompleteStep(1, 0, false, sigA)
		state = state.CompleteStep(1, 0, false, sigA)
		if state.ConsecutiveRepeatCount() != 2 {
			t.Errorf("expected repeat count 2, got %d", state.ConsecutiveRepeatCount())
		}
	})

	t.Run("action step resets to zero", func(t *testing.T) {
		state := NewRunState("run-1")
		state = state.CompleteStep(1, 0, false, sigA)
		state = state.CompleteStep(1, 0, false, sigA)
		state = state.CompleteStep(1, 0, true, sigA)
		if state.ConsecutiveRepeatCount() != 0 {
			t.Errorf("expected repeat count 0 after action step, got %d", state.ConsecutiveRepeatCount())
		}
	})

	t.Run("threshold zero never fires", func(t *testing.T) {
		state := NewRunState("run-1")
		for i := 0; i < 10; i++ {
			state = state.CompleteStep(1, 0, false, sigA)
		}
		if state.IsStuck(0) {
			t.Error("IsStuck(0) must be disabled")
		}
	})
}

func TestCostExceeded(t *testing.T) {
	state := NewRunState("run-1").CompleteStep(1000, 2.5, false, Signature("x"))

	if !state.CostExceeded(2.0) {
		t.Error("cost 2.5 should exceed limit 2.0")
	}
	if state.CostExceeded(2.5) {
		t.Error("cost equal to the limit must not exceed it")
	}
	if state.CostExceeded(0) {
		t.Error("limit 0 disables the check")
	}
	if state.CostExceeded(-1) {
		t.Error("negative limit disables the check")
	}
}

func TestTimeoutExceeded(t *testing.T) {
	state := NewRunState("run-1")

	if state.TimeoutExceeded(0) {
		t.Error("timeout 0 disables the check")
	}
	if state.TimeoutExceeded(time.Hour) {
		t.Error("fresh run should not exceed an hour timeout")
	}
	if !state.TimeoutExceeded(time.Nanosecond) {
		t.Error("a nanosecond timeout should have elapsed")
	}
}

func TestMaxStepsReached(t *testing.T) {
	state := NewRunState("run-1")
	state = state.CompleteStep(1, 0, true, Signature("a"))
	state = state.CompleteStep(1, 0, true, Signature("b"))

	if state.MaxStepsReached(3) {
		t.Error("2 steps should not reach a limit of 3")
	}
	if !state.MaxStepsReached(2) {
		t.Error("2 steps should reach a limit of 2")
	}
}

func TestLastStep(t *testing.T) {
	state := NewRunState("run-1")
	if _, ok := state.LastStep(); ok {
		t.Error("fresh state has no last step")
	}

	state = state.CompleteStep(42, 0.1, true, Signature("x"))
	snap, ok := state.LastStep()
	if !ok {
		t.Fatal("expected a last step")
	}
	if snap.Step != 1 || snap.TokensUsed != 42 || !snap.HadAction {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
