// Package loop provides the core generate-act-evaluate-decide orchestration
// loops for LLM agents, with immutable run-state tracking and composable
// termination strategies.
//
// # Overview
//
// The package separates concerns into distinct pieces:
//
//   - RunState: Immutable per-run bookkeeping (steps, tokens, cost, repeat
//     detection, abort flag)
//   - Strategy: Termination predicates composed with AllOf
//   - Generator / Jury / Optimizer: Collaborator boundaries the embedder
//     implements
//   - TurnLimitedLoop, EvaluatorOptimizerLoop, StateMachineLoop: The three
//     loop executors
//
// # Usage
//
// A bounded turn loop with a generation collaborator:
//
//	gen, _ := loop.NewLLMGenerator(client, loop.WithSystemPrompt(prompt))
//
//	cfg := loop.DefaultTurnConfig()
//	cfg.MaxSteps = 16
//
//	l, err := loop.NewTurnLimitedLoop(cfg, loop.TurnDeps{
//	    Generator:    gen,
//	    Conversation: loop.NewTranscript("fix the failing test"),
//	})
//	if err != nil {
//	    return err
//	}
//	result := l.Execute(ctx)
//
// An evaluator-optimizer trial sequence:
//
//	l, err := loop.NewEvaluatorOptimizerLoop(loop.DefaultEvalConfig(), loop.EvalDeps{
//	    Optimizer: myOptimizer,
//	    Jury:      myJury,
//	})
//	result := l.Execute(ctx)
//	best := result.Best
//
// A state machine with a custom state:
//
//	m, _ := loop.NewStateMachineLoop(loop.DefaultMachineConfig(), deps)
//	m.RegisterState(loop.AgentState{Name: "plan", AllowedTransitions: []string{"running"}},
//	    func(ctx context.Context, turn *loop.Turn) (loop.Directive, error) {
//	        return loop.TransitionTo("running", "plan drafted"), nil
//	    })
//	result := m.Execute(ctx)
//
// # Termination
//
// Strategies are plain functions evaluated in caller order; the first
// terminating decision wins:
//
//	strategy := loop.AllOf(
//	    loop.AbortSignal(),
//	    loop.MaxSteps(32),
//	    loop.Timeout(5*time.Minute),
//	    loop.CostLimit(1.50),
//	    loop.StuckDetection(3),
//	)
//
// Execute never panics on collaborator failure and never returns an error:
// every run ends in a structured result whose Reason explains why.
package loop
