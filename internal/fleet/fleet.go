// Package fleet orchestrates one scheduler invocation end to end: enumerate
// the instances, fill missing next-run times, select and dispatch the due
// subset, and persist every record. One instance's failure never aborts the
// pass.
package fleet

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/detextit/apiary/internal/config"
	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/schedule"
	"github.com/detextit/apiary/internal/store"
)

// CycleRunner executes one run cycle for an instance, mutating its state.
type CycleRunner interface {
	RunCycle(ctx context.Context, inst *instance.Instance) error
}

// Registrar obtains platform credentials during bootstrap.
type Registrar interface {
	Register(ctx context.Context, handle, name string) (string, error)
}

// Service wires the collaborators for pass, bootstrap, and status. All
// fields must be set except Now and Rand, which default to the wall clock
// and a time-seeded source.
type Service struct {
	Cfg   config.Config
	Store store.Store
	Paths store.Paths
	Calc  *schedule.Calculator
	Exec  CycleRunner
	Reg   Registrar // optional; bootstrap skips registration when nil
	Log   zerolog.Logger
	Now   func() time.Time
	Rand  *rand.Rand
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) rng() *rand.Rand {
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.Rand
}

// enumerate merges configured agents with stored records into the working
// set for this invocation.
//
// A configured agent always uses its current template; stored state carries
// over. A stored record with no config entry survives with its persisted
// identity unless restrict_to_config drops it.
func (s *Service) enumerate() ([]*instance.Instance, error) {
	byHandle := make(map[string]*instance.Instance)
	order := make([]string, 0, len(s.Cfg.Agents))

	for _, tmpl := range s.Cfg.Agents {
		rec, ok, err := s.Store.Get(tmpl.Handle)
		if err != nil {
			return nil, err
		}
		byHandle[tmpl.Handle] = recordToInstance(tmpl, rec, ok)
		order = append(order, tmpl.Handle)
	}

	if !s.Cfg.Platform.RestrictToConfig {
		handles, err := s.Store.List()
		if err != nil {
			return nil, err
		}
		for _, h := range handles {
			if _, known := byHandle[h]; known {
				continue
			}
			rec, ok, err := s.Store.Get(h)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			byHandle[h] = &instance.Instance{Template: rec.Identity, State: rec.State}
			order = append(order, h)
		}
		sort.Strings(order[len(s.Cfg.Agents):])
	}

	insts := make([]*instance.Instance, 0, len(order))
	for _, h := range order {
		insts = append(insts, byHandle[h])
	}
	return insts, nil
}

// recordToInstance pairs a current template with its stored state, if any.
func recordToInstance(tmpl instance.Template, rec store.Record, ok bool) *instance.Instance {
	inst := &instance.Instance{Template: tmpl}
	if ok {
		inst.State = rec.State
	}
	return inst
}

// persist writes inst back as a whole record.
func (s *Service) persist(inst *instance.Instance) error {
	return s.Store.Put(inst.Handle(), store.Record{
		Identity: inst.Template,
		State:    inst.State,
	})
}

// fillSchedule assigns an initial next-run time to any instance missing one
// and reports whether inst changed. Unreadable values stay as they are; the
// due filter treats them as due, which keeps them observable instead of
// silently rewritten.
func (s *Service) fillSchedule(inst *instance.Instance, now time.Time) bool {
	if inst.State.NextRunAt != "" {
		return false
	}
	inst.State.SetNextRun(s.Calc.InitialRunAt(inst.Template.Schedule, now))
	return true
}
