package executor

import "fmt"

// CycleState captures one instance's progress through a run cycle.
type CycleState string

const (
	StateUnprovisioned  CycleState = "unprovisioned"
	StateProvisioning   CycleState = "provisioning"
	StateReady          CycleState = "ready"
	StateRunning        CycleState = "running"
	StateSettledSuccess CycleState = "settled_success"
	StateSettledFailure CycleState = "settled_failure"
)

// CycleEvent is consumed by the state machine.
type CycleEvent string

const (
	EventProvisionStarted CycleEvent = "provision_started"
	EventCredentialReady  CycleEvent = "credential_ready"
	EventActionStarted    CycleEvent = "action_started"
	EventActionSucceeded  CycleEvent = "action_succeeded"
	EventFailure          CycleEvent = "failure"
)

var cycleTransitions = map[CycleState]map[CycleEvent]CycleState{
	StateUnprovisioned: {
		EventProvisionStarted: StateProvisioning,
		EventFailure:          StateSettledFailure,
	},
	StateProvisioning: {
		EventCredentialReady: StateReady,
		EventFailure:         StateSettledFailure,
	},
	StateReady: {
		EventActionStarted: StateRunning,
		EventFailure:       StateSettledFailure,
	},
	StateRunning: {
		EventActionSucceeded: StateSettledSuccess,
		EventFailure:         StateSettledFailure,
	},
	StateSettledSuccess: {},
	StateSettledFailure: {},
}

// advance applies event to current, rejecting transitions the table does not
// allow. An invalid transition is a caller bug, not an instance failure.
func advance(current CycleState, event CycleEvent) (CycleState, error) {
	nextByEvent, ok := cycleTransitions[current]
	if !ok {
		return current, fmt.Errorf("unknown cycle state %q", current)
	}
	next, ok := nextByEvent[event]
	if !ok {
		return current, fmt.Errorf("cycle state %q does not allow event %q", current, event)
	}
	return next, nil
}
