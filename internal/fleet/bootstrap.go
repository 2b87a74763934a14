package fleet

import (
	"context"
	"fmt"

	"github.com/detextit/apiary/internal/events"
	"github.com/detextit/apiary/internal/identity"
	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/store"
)

// BootstrapResult lists what bootstrap touched.
type BootstrapResult struct {
	Provisioned []string `json:"provisioned"`
	Existing    []string `json:"existing"`
}

// Bootstrap materializes every configured agent: instance directory, persona
// profile, persisted record with a first next-run time. It runs no actions
// and is safe to repeat; existing records and profiles are left alone.
func (s *Service) Bootstrap(ctx context.Context) (BootstrapResult, error) {
	var res BootstrapResult
	err := store.WithInvocationLock(s.Paths, func() error {
		now := s.now()
		prov := identity.Provisioner{Paths: s.Paths}

		for _, tmpl := range s.Cfg.Agents {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := prov.Ensure(tmpl); err != nil {
				return fmt.Errorf("provision %s: %w", tmpl.Handle, err)
			}

			rec, ok, err := s.Store.Get(tmpl.Handle)
			if err != nil {
				return err
			}
			inst := recordToInstance(tmpl, rec, ok)
			filled := s.fillSchedule(inst, now)
			s.register(ctx, inst)
			if err := s.persist(inst); err != nil {
				return err
			}

			if ok && !filled {
				res.Existing = append(res.Existing, tmpl.Handle)
				continue
			}
			res.Provisioned = append(res.Provisioned, tmpl.Handle)
			_ = events.Append(s.Paths.ActivityLog(tmpl.Handle), events.Event{
				Handle: tmpl.Handle, Type: events.TypeProvisioned,
			})
			s.Log.Info().Str("handle", tmpl.Handle).
				Str("next_run_at", inst.State.NextRunAt).Msg("bootstrapped")
		}
		return nil
	})
	return res, err
}

// register fills in a credential for inst when it has none. A held
// credential is never replaced, so repeating bootstrap issues no duplicate
// registration calls. Failures are recorded on the instance and tolerated;
// the run pass retries registration when the instance first executes.
func (s *Service) register(ctx context.Context, inst *instance.Instance) {
	if inst.State.Credential != "" {
		return
	}
	if inst.Template.Credential != "" {
		inst.State.Credential = inst.Template.Credential
		return
	}
	if s.Reg == nil {
		return
	}
	cred, err := s.Reg.Register(ctx, inst.Handle(), inst.Template.Name)
	if err != nil {
		inst.State.LastError = err.Error()
		s.Log.Warn().Err(err).Str("handle", inst.Handle()).Msg("registration failed")
		return
	}
	inst.State.Credential = cred
	_ = events.Append(s.Paths.ActivityLog(inst.Handle()), events.Event{
		Handle: inst.Handle(), Type: events.TypeRegistered,
	})
}
