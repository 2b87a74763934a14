package executor

import "fmt"

// RegistrationError marks a cycle that could not obtain a credential. It is
// isolated to one instance and implies an implicit retry: the schedule is not
// advanced, so the instance stays due.
type RegistrationError struct {
	Handle string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration failed for %s: %v", e.Handle, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ActionError marks an external action that exited non-zero, timed out, or
// failed to start. Like RegistrationError it never advances the schedule.
type ActionError struct {
	Handle   string
	TimedOut bool
	ExitCode int
	Err      error
}

func (e *ActionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("action timed out for %s", e.Handle)
	}
	if e.Err != nil {
		return fmt.Sprintf("action failed for %s: %v", e.Handle, e.Err)
	}
	return fmt.Sprintf("action failed for %s (exit %d)", e.Handle, e.ExitCode)
}

func (e *ActionError) Unwrap() error { return e.Err }

// StateIOError marks a cycle whose state could not be persisted. Silent state
// loss would cause duplicate or missed runs, so this is fatal for the
// instance's cycle (but still never aborts the batch).
type StateIOError struct {
	Handle string
	Err    error
}

func (e *StateIOError) Error() string {
	return fmt.Sprintf("state persistence failed for %s: %v", e.Handle, e.Err)
}

func (e *StateIOError) Unwrap() error { return e.Err }
