package loop

import (
	"context"
	"errors"
	"testing"
)

func TestStateMachineDefaultFlowWithoutJury(t *testing.T) {
	gen := &MockGenerator{Generations: []*Generation{{Text: "final answer", TokensUsed: 5}}}

	m, err := NewStateMachineLoop(DefaultMachineConfig(), MachineDeps{Generator: gen})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonStateTerminal {
		t.Fatalf("expected %s, got %s (%s)", ReasonStateTerminal, result.Reason, result.Message)
	}
	if result.FinalState != StateComplete {
		t.Errorf("expected final state %q, got %q", StateComplete, result.FinalState)
	}
	if result.Output != "final answer" {
		t.Errorf("unexpected output %q", result.Output)
	}
	// initial -> running, running -> complete.
	if len(result.Transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(result.Transitions))
	}
	if result.Transitions[0].From != StateInitial || result.Transitions[0].To != StateRunning {
		t.Errorf("unexpected first transition %+v", result.Transitions[0])
	}
	if result.Transitions[1].From != StateRunning || result.Transitions[1].To != StateComplete {
		t.Errorf("unexpected second transition %+v", result.Transitions[1])
	}
	if !result.Success {
		t.Error("terminal completion is success")
	}
}

func TestStateMachineEvaluationRetry(t *testing.T) {
	gen := &MockGenerator{Generations: []*Generation{
		{Text: "first draft", TokensUsed: 5},
		{Text: "second draft", TokensUsed: 5},
	}}
	jury := &MockJury{Verdicts: []*Verdict{
		{Score: 0.2},
		{Score: 0.9, Passed: true},
	}}

	cfg := DefaultMachineConfig()
	cfg.ScoreThreshold = 0.8

	m, err := NewStateMachineLoop(cfg, MachineDeps{Generator: gen, Jury: jury})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonStateTerminal {
		t.Fatalf("expected %s, got %s (%s)", ReasonStateTerminal, result.Reason, result.Message)
	}
	if result.Output != "second draft" {
		t.Errorf("expected the retried draft, got %q", result.Output)
	}
	// A failing verdict routes awaiting_evaluation back to running.
	if gen.Calls != 2 {
		t.Errorf("expected 2 generation calls, got %d", gen.Calls)
	}
	if jury.Calls != 2 {
		t.Errorf("expected 2 jury calls, got %d", jury.Calls)
	}
}

func TestStateMachineUnknownStateStaysUntilBudget(t *testing.T) {
	cfg := DefaultMachineConfig()
	cfg.MaxIterations = 4

	m, err := NewStateMachineLoop(cfg, MachineDeps{})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	m.SetStartState("limbo")
	if err := m.RegisterState(AgentState{Name: "limbo"}, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonMaxIterations {
		t.Fatalf("expected %s, got %s", ReasonMaxIterations, result.Reason)
	}
	if result.FinalState != "limbo" {
		t.Errorf("expected to remain in limbo, got %q", result.FinalState)
	}
	if len(result.Transitions) != 4 {
		t.Errorf("expected one stay per iteration, got %d transitions", len(result.Transitions))
	}
	for _, tr := range result.Transitions {
		if tr.From != "limbo" || tr.To != "limbo" {
			t.Errorf("unexpected transition %+v", tr)
		}
	}
}

func TestStateMachineIllegalTransitionIgnored(t *testing.T) {
	cfg := DefaultMachineConfig()
	cfg.MaxIterations = 3

	m, err := NewStateMachineLoop(cfg, MachineDeps{})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	m.SetStartState("guarded")

	// The handler keeps asking for a transition outside the legal set; the
	// machine stays put until the budget fires.
	err = m.RegisterState(
		AgentState{Name: "guarded", AllowedTransitions: []string{StateFailed}},
		func(_ context.Context, _ *Turn) (Directive, error) {
			return TransitionTo(StateComplete, "escaping"), nil
		},
	)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonMaxIterations {
		t.Fatalf("expected %s, got %s", ReasonMaxIterations, result.Reason)
	}
	if result.FinalState != "guarded" {
		t.Errorf("illegal transition must be ignored, final state %q", result.FinalState)
	}
	for _, tr := range result.Transitions {
		if tr.To != "guarded" {
			t.Errorf("expected the machine to stay, got transition %+v", tr)
		}
	}
}

func TestStateMachineCustomHandlerChain(t *testing.T) {
	m, err := NewStateMachineLoop(DefaultMachineConfig(), MachineDeps{})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	m.SetStartState("plan")

	if err := m.RegisterState(
		AgentState{Name: "plan", AllowedTransitions: []string{"apply"}},
		func(_ context.Context, _ *Turn) (Directive, error) {
			return TransitionTo("apply", "plan drafted"), nil
		},
	); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterState(
		AgentState{Name: "apply", AllowedTransitions: []string{StateComplete}},
		func(_ context.Context, turn *Turn) (Directive, error) {
			if turn.LastOutput != "plan drafted" {
				return Fail("", "plan missing"), nil
			}
			return Complete("patch applied"), nil
		},
	); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonStateTerminal {
		t.Fatalf("expected %s, got %s (%s)", ReasonStateTerminal, result.Reason, result.Message)
	}
	if result.Output != "patch applied" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestStateMachineHandlerFailure(t *testing.T) {
	m, err := NewStateMachineLoop(DefaultMachineConfig(), MachineDeps{})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	m.SetStartState("broken")

	handlerErr := errors.New("handler exploded")
	if err := m.RegisterState(AgentState{Name: "broken"},
		func(_ context.Context, _ *Turn) (Directive, error) {
			return Stay(""), handlerErr
		},
	); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonError {
		t.Fatalf("expected %s, got %s", ReasonError, result.Reason)
	}
	if !errors.Is(result.Err, handlerErr) {
		t.Errorf("expected the handler error to surface, got %v", result.Err)
	}
}

func TestStateMachineFailDirective(t *testing.T) {
	m, err := NewStateMachineLoop(DefaultMachineConfig(), MachineDeps{})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	m.SetStartState("doomed")

	if err := m.RegisterState(AgentState{Name: "doomed"},
		func(_ context.Context, _ *Turn) (Directive, error) {
			return Fail("partial work", "unrecoverable conflict"), nil
		},
	); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := m.Execute(context.Background())
	if result.Reason != ReasonError {
		t.Fatalf("expected %s, got %s", ReasonError, result.Reason)
	}
	if result.FinalState != StateFailed {
		t.Errorf("expected final state %q, got %q", StateFailed, result.FinalState)
	}
	if result.Output != "partial work" {
		t.Errorf("expected the failing output preserved, got %q", result.Output)
	}
	if result.Success {
		t.Error("a failed machine is not success")
	}
}
