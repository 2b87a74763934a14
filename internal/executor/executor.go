// Package executor drives one instance's run cycle through its state
// machine: ensure identity, obtain a credential, invoke the external action,
// settle the schedule. Failures stay inside the cycle; the caller decides
// nothing beyond "record and move on".
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/detextit/apiary/internal/events"
	"github.com/detextit/apiary/internal/identity"
	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/platform"
	"github.com/detextit/apiary/internal/prompt"
	"github.com/detextit/apiary/internal/runner"
	"github.com/detextit/apiary/internal/schedule"
	"github.com/detextit/apiary/internal/store"
)

// Registrar obtains credentials from the platform.
type Registrar interface {
	Register(ctx context.Context, handle, name string) (string, error)
}

// Feed supplies recent platform posts for prompt context.
type Feed interface {
	Browse(ctx context.Context, credential string, limit int) ([]platform.Post, error)
}

// feedLimit bounds how much context one prompt pulls from the platform.
const feedLimit = 20

// Options carries the timeouts for action invocation.
type Options struct {
	ActionTimeout  time.Duration // short default for one-shot actions
	SessionTimeout time.Duration // longer bound for full-session agents
}

// Executor runs one cycle per instance. All collaborators are injected; the
// zero value is not usable.
type Executor struct {
	Calc        *schedule.Calculator
	Runner      runner.Runner
	Registrar   Registrar
	Feed        Feed // optional; nil skips feed context
	Provisioner identity.Provisioner
	Paths       store.Paths
	Opts        Options
	Log         zerolog.Logger
	Now         func() time.Time
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RunCycle executes one cycle for inst, mutating its state in place. The
// caller persists the record afterward regardless of outcome.
//
// On success the schedule advances from the completion time. On any failure
// last_error and last_run are recorded but next_run_at is left untouched, so
// the instance is still due on the next invocation.
func (e *Executor) RunCycle(ctx context.Context, inst *instance.Instance) error {
	cycle := uuid.NewString()
	handle := inst.Handle()
	log := e.Log.With().Str("handle", handle).Str("cycle", cycle).Logger()
	activity := e.Paths.ActivityLog(handle)

	state := StateUnprovisioned

	// Unprovisioned -> Provisioning: identity artifacts, create-if-absent.
	state = e.mustAdvance(state, EventProvisionStarted)
	instDir, err := e.Provisioner.Ensure(inst.Template)
	if err != nil {
		_ = e.mustAdvance(state, EventFailure)
		inst.State.LastError = err.Error()
		log.Error().Err(err).Msg("provisioning failed")
		return &StateIOError{Handle: handle, Err: err}
	}

	// Provisioning -> Ready: resolve a credential. The action never started,
	// so only the error is recorded; last_run stays untouched.
	cred, fresh, err := e.resolveCredential(ctx, inst)
	if err != nil {
		_ = e.mustAdvance(state, EventFailure)
		inst.State.LastError = err.Error()
		_ = events.Append(activity, events.Event{
			Cycle: cycle, Handle: handle, Type: events.TypeSkipped,
			Message: "no credential; will retry next invocation",
		})
		log.Warn().Err(err).Msg("credential unavailable, skipping cycle")
		return &RegistrationError{Handle: handle, Err: err}
	}
	if fresh {
		_ = events.Append(activity, events.Event{
			Cycle: cycle, Handle: handle, Type: events.TypeRegistered,
		})
	}
	state = e.mustAdvance(state, EventCredentialReady)

	// Ready -> Running: build the prompt and launch the action.
	text := prompt.Build(inst.Template, e.browseFeed(ctx, cred), e.now())
	promptFile := filepath.Join(instDir, "prompt.md")
	if err := os.WriteFile(promptFile, []byte(text), 0o644); err != nil {
		_ = e.mustAdvance(state, EventFailure)
		inst.State.LastError = err.Error()
		return &StateIOError{Handle: handle, Err: fmt.Errorf("write prompt: %w", err)}
	}

	vars := prompt.Vars{
		Handle:      handle,
		Name:        inst.Template.Name,
		Prompt:      text,
		PromptFile:  promptFile,
		InstanceDir: instDir,
	}
	argv, err := prompt.ExpandCommand(inst.Template.Command, vars)
	if err != nil {
		_ = e.mustAdvance(state, EventFailure)
		inst.State.LastError = err.Error()
		return &ActionError{Handle: handle, Err: err}
	}

	timeout := e.Opts.ActionTimeout
	if inst.Template.FullSession {
		timeout = e.Opts.SessionTimeout
	}

	state = e.mustAdvance(state, EventActionStarted)
	_ = events.Append(activity, events.Event{Cycle: cycle, Handle: handle, Type: events.TypeRunStarted})
	log.Info().Str("command", argv[0]).Dur("timeout", timeout).Msg("invoking action")

	res, runErr := e.Runner.Run(ctx, runner.Command{
		Argv:    argv,
		Dir:     e.Paths.WorkspaceDir(handle),
		Env:     prompt.Env(vars),
		Timeout: timeout,
	})

	completed := e.now()

	// Running -> Settled.
	if res.TimedOut || runErr != nil {
		_ = e.mustAdvance(state, EventFailure)
		actionErr := &ActionError{Handle: handle, TimedOut: res.TimedOut, ExitCode: res.ExitCode, Err: runErr}
		e.settleFailure(inst, actionErr.Error())
		_ = events.Append(activity, events.Event{
			Cycle: cycle, Handle: handle, Type: events.TypeRunFailed,
			Message: actionErr.Error(), ExitCode: res.ExitCode, Duration: res.Duration,
		})
		log.Warn().Bool("timed_out", res.TimedOut).Int("exit_code", res.ExitCode).Msg("action failed")
		return actionErr
	}

	_ = e.mustAdvance(state, EventActionSucceeded)
	inst.State.SetNextRun(e.Calc.NextRunAt(inst.Template.Schedule, completed))
	inst.State.LastRun = &completed
	inst.State.RunCount++
	inst.State.LastError = ""
	_ = events.Append(activity, events.Event{
		Cycle: cycle, Handle: handle, Type: events.TypeRunSucceeded, Duration: res.Duration,
	})
	log.Info().Int("run_count", inst.State.RunCount).Str("next_run_at", inst.State.NextRunAt).Msg("action succeeded")
	return nil
}

// resolveCredential finds a credential for the cycle: stored, else
// pre-supplied on the template, else freshly registered. A stored credential
// is never replaced. fresh reports that a registration call was made.
func (e *Executor) resolveCredential(ctx context.Context, inst *instance.Instance) (cred string, fresh bool, err error) {
	if inst.State.Credential != "" {
		return inst.State.Credential, false, nil
	}
	if inst.Template.Credential != "" {
		inst.State.Credential = inst.Template.Credential
		return inst.State.Credential, false, nil
	}
	if e.Registrar == nil {
		return "", false, fmt.Errorf("no credential and no registrar configured")
	}
	cred, err = e.Registrar.Register(ctx, inst.Handle(), inst.Template.Name)
	if err != nil {
		return "", false, err
	}
	inst.State.Credential = cred
	return cred, true, nil
}

// browseFeed best-effort fetches prompt context; failures are logged and
// swallowed since feed context is optional.
func (e *Executor) browseFeed(ctx context.Context, cred string) []platform.Post {
	if e.Feed == nil || cred == "" {
		return nil
	}
	posts, err := e.Feed.Browse(ctx, cred, feedLimit)
	if err != nil {
		e.Log.Debug().Err(err).Msg("feed unavailable, prompting without context")
		return nil
	}
	return posts
}

// settleFailure records the failed cycle without touching next_run_at.
// Leaving it as-is (or absent) keeps the instance due next invocation.
func (e *Executor) settleFailure(inst *instance.Instance, msg string) {
	at := e.now()
	inst.State.LastRun = &at
	inst.State.LastError = msg
}

// mustAdvance applies a transition the executor's own control flow
// guarantees is legal; a rejection is a bug, logged loudly, and the state is
// left where it was.
func (e *Executor) mustAdvance(state CycleState, event CycleEvent) CycleState {
	next, err := advance(state, event)
	if err != nil {
		e.Log.Error().Err(err).Msg("illegal cycle transition")
	}
	return next
}
