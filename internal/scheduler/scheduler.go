// Package scheduler decides which instances run this invocation: a due
// filter over persisted next-run times, then a bounded random pick so a
// large fleet never bursts all at once.
package scheduler

import (
	"math/rand"
	"time"

	"github.com/detextit/apiary/internal/instance"
)

// Due reports whether inst should run at now.
//
// An instance with scheduling disabled (only_due false) is always due. A
// missing or unreadable next_run_at also counts as due: a record we cannot
// interpret must not strand its instance forever.
func Due(inst *instance.Instance, now time.Time) bool {
	if !inst.Template.Schedule.OnlyDue {
		return true
	}
	next, ok := inst.State.NextRun()
	if !ok {
		return true
	}
	return !now.Before(next)
}

// SelectDue filters insts down to those due at now, preserving order.
func SelectDue(insts []*instance.Instance, now time.Time) []*instance.Instance {
	var due []*instance.Instance
	for _, inst := range insts {
		if Due(inst, now) {
			due = append(due, inst)
		}
	}
	return due
}

// Pick chooses up to maxParallel instances from due, uniformly at random.
// A non-positive bound still dispatches one instance so the fleet always
// makes progress. The input slice is not modified.
func Pick(due []*instance.Instance, maxParallel int, rng *rand.Rand) []*instance.Instance {
	if len(due) == 0 {
		return nil
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	shuffled := make([]*instance.Instance, len(due))
	copy(shuffled, due)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if maxParallel > len(shuffled) {
		maxParallel = len(shuffled)
	}
	return shuffled[:maxParallel]
}
