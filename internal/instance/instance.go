// Package instance defines the fleet's unit of scheduling: an immutable
// per-invocation template paired with a mutable, persisted state record.
package instance

import (
	"fmt"
	"regexp"
	"time"

	"github.com/detextit/apiary/internal/schedule"
)

// handleRE matches stable lowercase handle tokens.
var handleRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateHandle checks that handle is a stable lowercase token.
func ValidateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("handle is required")
	}
	if !handleRE.MatchString(handle) {
		return fmt.Errorf("handle %q must be a lowercase token matching %s", handle, handleRE)
	}
	return nil
}

// Template is an instance's identity for one invocation. It is never mutated
// by the scheduler; a snapshot is persisted alongside the state record.
type Template struct {
	Handle      string        `json:"handle"`
	Name        string        `json:"name"`
	Persona     string        `json:"persona,omitempty"`
	Schedule    schedule.Spec `json:"schedule"`
	Command     string        `json:"command"`
	Credential  string        `json:"credential,omitempty"`
	FullSession bool          `json:"full_session,omitempty"`
}

// State is the mutable per-handle record.
//
// NextRunAt is stored as RFC3339 text rather than time.Time so that a
// corrupted or hand-edited value can be observed and treated fail-open
// (unknown timing state must never stop an instance from running).
type State struct {
	NextRunAt  string     `json:"next_run_at,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	RunCount   int        `json:"run_count"`
	LastError  string     `json:"last_error,omitempty"`
	Credential string     `json:"credential,omitempty"`
}

// NextRun parses the stored next-run timestamp.
// ok is false when the value is absent or unparseable.
func (s State) NextRun() (at time.Time, ok bool) {
	if s.NextRunAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.NextRunAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetNextRun stores t as the next-run timestamp.
func (s *State) SetNextRun(t time.Time) {
	s.NextRunAt = t.UTC().Format(time.RFC3339Nano)
}

// Instance pairs a template with its state, keyed by Template.Handle.
type Instance struct {
	Template Template
	State    State
}

// Handle returns the partitioning key.
func (i *Instance) Handle() string {
	return i.Template.Handle
}
