package fleet

import (
	"context"

	"github.com/detextit/apiary/internal/scheduler"
	"github.com/detextit/apiary/internal/store"
)

// PassResult summarizes one scheduler invocation.
type PassResult struct {
	Total      int      `json:"total"`
	Due        int      `json:"due"`
	Dispatched []string `json:"dispatched"`
	Succeeded  []string `json:"succeeded"`
	Failed     []string `json:"failed"`
}

// Run executes one scheduling pass under the invocation lock.
//
// Every enumerated instance is persisted whole-record before the pass ends,
// whether it ran, failed, or was merely assigned a first next-run time. Run
// only returns an error for faults that invalidate the whole pass (lock,
// enumeration, persistence); action failures land in the result instead.
func (s *Service) Run(ctx context.Context) (PassResult, error) {
	var res PassResult
	err := store.WithInvocationLock(s.Paths, func() error {
		var lockErr error
		res, lockErr = s.runLocked(ctx)
		return lockErr
	})
	return res, err
}

func (s *Service) runLocked(ctx context.Context) (PassResult, error) {
	now := s.now()
	insts, err := s.enumerate()
	if err != nil {
		return PassResult{}, err
	}

	res := PassResult{Total: len(insts)}

	for _, inst := range insts {
		if s.fillSchedule(inst, now) {
			if err := s.persist(inst); err != nil {
				return res, err
			}
			s.Log.Debug().Str("handle", inst.Handle()).
				Str("next_run_at", inst.State.NextRunAt).Msg("assigned first run time")
		}
	}

	due := scheduler.SelectDue(insts, now)
	res.Due = len(due)

	picked := scheduler.Pick(due, s.Cfg.Platform.MaxParallelRuns, s.rng())
	for _, inst := range picked {
		res.Dispatched = append(res.Dispatched, inst.Handle())
	}
	s.Log.Info().Int("total", res.Total).Int("due", res.Due).
		Strs("dispatched", res.Dispatched).Msg("pass selection complete")

	// Actions run one at a time: max_parallel_runs caps the batch size, it
	// does not introduce parallelism. Each cycle persists before the next
	// starts so a crash mid-pass loses at most the in-flight outcome.
	var persistErr error
	for _, inst := range picked {
		if err := s.Exec.RunCycle(ctx, inst); err != nil {
			res.Failed = append(res.Failed, inst.Handle())
		} else {
			res.Succeeded = append(res.Succeeded, inst.Handle())
		}
		if err := s.persist(inst); err != nil {
			s.Log.Error().Err(err).Str("handle", inst.Handle()).Msg("persist failed")
			if persistErr == nil {
				persistErr = err
			}
		}
	}
	return res, persistErr
}
