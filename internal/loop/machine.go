package loop

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"

	looperrors "github.com/agentloop/agentloop/internal/errors"
	"github.com/agentloop/agentloop/internal/state"
)

// Event drives the phase machine. Gate phases emit pass or fail, the
// completion gate emits complete, and the orchestrator injects stop and
// error from outside the phase sequence.
type Event string

const (
	EventPass     Event = "pass"
	EventFail     Event = "fail"
	EventComplete Event = "complete"
	EventResume   Event = "resume"
	EventStop     Event = "stop"
	EventError    Event = "error"
)

// machineContext carries the data transition guards need.
type machineContext struct {
	TaskID     string
	CanIterate func() bool
}

// Machine is the phase state machine for one task execution. Every
// transition back to the implementation phase passes the retry-budget
// guard; a rejected event leaves the machine where it was and Fire reports
// the rejection.
type Machine struct {
	interpreter *statekit.Interpreter[machineContext]
	taskID      string
}

// NewMachine builds the phase machine starting at initial. canIterate gates
// every transition that re-enters the implementation phase; nil means
// unlimited.
func NewMachine(taskID string, initial state.Phase, canIterate func() bool) (*Machine, error) {
	if canIterate == nil {
		canIterate = func() bool { return true }
	}

	builder := statekit.NewMachine[machineContext]("execution-loop").
		WithInitial(statekit.StateID(initial)).
		WithContext(machineContext{
			TaskID:     taskID,
			CanIterate: canIterate,
		}).
		WithGuard("withinBudget", func(ctx machineContext, _ statekit.Event) bool {
			return ctx.CanIterate()
		})

	builder.State(statekit.StateID(state.PhaseImplementation)).
		On(statekit.EventType(EventPass)).Target(statekit.StateID(state.PhaseTestCritique)).
		On(statekit.EventType(EventError)).Target(statekit.StateID(state.PhaseFailed)).
		On(statekit.EventType(EventStop)).Target(statekit.StateID(state.PhaseStopped)).
		Done()

	builder.State(statekit.StateID(state.PhaseTestCritique)).
		On(statekit.EventType(EventPass)).Target(statekit.StateID(state.PhaseQA)).
		On(statekit.EventType(EventFail)).Target(statekit.StateID(state.PhaseImplementation)).Guard("withinBudget").
		On(statekit.EventType(EventError)).Target(statekit.StateID(state.PhaseFailed)).
		On(statekit.EventType(EventStop)).Target(statekit.StateID(state.PhaseStopped)).
		Done()

	builder.State(statekit.StateID(state.PhaseQA)).
		On(statekit.EventType(EventPass)).Target(statekit.StateID(state.PhaseCodeQuality)).
		On(statekit.EventType(EventFail)).Target(statekit.StateID(state.PhaseImplementation)).Guard("withinBudget").
		On(statekit.EventType(EventError)).Target(statekit.StateID(state.PhaseFailed)).
		On(statekit.EventType(EventStop)).Target(statekit.StateID(state.PhaseStopped)).
		Done()

	builder.State(statekit.StateID(state.PhaseCodeQuality)).
		On(statekit.EventType(EventPass)).Target(statekit.StateID(state.PhaseManager)).
		On(statekit.EventType(EventFail)).Target(statekit.StateID(state.PhaseImplementation)).Guard("withinBudget").
		On(statekit.EventType(EventError)).Target(statekit.StateID(state.PhaseFailed)).
		On(statekit.EventType(EventStop)).Target(statekit.StateID(state.PhaseStopped)).
		Done()

	builder.State(statekit.StateID(state.PhaseManager)).
		On(statekit.EventType(EventPass)).Target(statekit.StateID(state.PhaseDoDCheck)).
		On(statekit.EventType(EventError)).Target(statekit.StateID(state.PhaseFailed)).
		On(statekit.EventType(EventStop)).Target(statekit.StateID(state.PhaseStopped)).
		Done()

	builder.State(statekit.StateID(state.PhaseDoDCheck)).
		On(statekit.EventType(EventComplete)).Target(statekit.StateID(state.PhaseCompleted)).
		On(statekit.EventType(EventFail)).Target(statekit.StateID(state.PhaseImplementation)).Guard("withinBudget").
		On(statekit.EventType(EventError)).Target(statekit.StateID(state.PhaseFailed)).
		On(statekit.EventType(EventStop)).Target(statekit.StateID(state.PhaseStopped)).
		Done()

	// Stopped is resumable; completed and failed are terminal.
	builder.State(statekit.StateID(state.PhaseStopped)).
		On(statekit.EventType(EventResume)).Target(statekit.StateID(state.PhaseImplementation)).Guard("withinBudget").
		Done()

	builder.State(statekit.StateID(state.PhaseCompleted)).Done()
	builder.State(statekit.StateID(state.PhaseFailed)).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("building phase machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &Machine{interpreter: interpreter, taskID: taskID}, nil
}

// Current returns the machine's current phase.
func (m *Machine) Current() state.Phase {
	return state.Phase(m.interpreter.State().Value)
}

// Fire sends an event into the machine. An event with no matching
// transition, or one rejected by the retry-budget guard, leaves the phase
// unchanged and returns an error.
func (m *Machine) Fire(event Event) error {
	before := m.Current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := m.Current()

	if before != after {
		return nil
	}
	return looperrors.NewLoopError(
		fmt.Sprintf("event %q is not allowed in phase %q", event, before),
		nil,
	).WithTaskID(m.taskID).WithPhase(string(before))
}
