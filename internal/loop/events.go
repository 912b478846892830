package loop

import (
	"time"

	"github.com/codefionn/agentloop/internal/logger"
)

// EventType identifies a lifecycle event.
type EventType int

const (
	// EventLoopStarted fires once before the first step
	EventLoopStarted EventType = iota
	// EventStepStarted fires before each generation call
	EventStepStarted
	// EventStepCompleted fires after a step's snapshot is recorded
	EventStepCompleted
	// EventTrialRecorded fires after an evaluator-optimizer trial
	EventTrialRecorded
	// EventTransitionRecorded fires after a state-machine transition
	EventTransitionRecorded
	// EventLoopCompleted fires once when a run terminates without error
	EventLoopCompleted
	// EventLoopFailed fires once when a run terminates with an error
	EventLoopFailed
)

// String returns a stable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventLoopStarted:
		return "loop_started"
	case EventStepStarted:
		return "step_started"
	case EventStepCompleted:
		return "step_completed"
	case EventTrialRecorded:
		return "trial_recorded"
	case EventTransitionRecorded:
		return "transition_recorded"
	case EventLoopCompleted:
		return "loop_completed"
	case EventLoopFailed:
		return "loop_failed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification delivered to listeners. Fields beyond
// Type, RunID and Time are populated per event type.
type Event struct {
	Type  EventType
	RunID string
	Kind  string // loop kind: "turn", "evaluator", "state_machine", "graph"
	Time  time.Time

	State      RunState
	Step       StepSnapshot
	Trial      *TrialRecord
	Transition *StateTransition
	Reason     Reason
	Err        error
}

// Listener receives lifecycle callbacks. Callbacks are fire-and-forget; no
// return value is consumed.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

// OnEvent calls the wrapped function.
func (f ListenerFunc) OnEvent(event Event) { f(event) }

// dispatch invokes each listener in registration order inside its own
// error boundary. A listener that panics is logged and skipped; it cannot
// abort the loop or affect other listeners.
func dispatch(listeners []Listener, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	for _, l := range listeners {
		if l == nil {
			continue
		}
		safeNotify(l, event)
	}
}

func safeNotify(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("listener panicked on %s event for run %s: %v", event.Type, event.RunID, r)
		}
	}()
	l.OnEvent(event)
}
