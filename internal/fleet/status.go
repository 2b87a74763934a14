package fleet

import (
	"time"

	"github.com/detextit/apiary/internal/events"
	"github.com/detextit/apiary/internal/scheduler"
)

// StatusRow is one instance's snapshot for reporting.
type StatusRow struct {
	Handle     string     `json:"handle"`
	Name       string     `json:"name"`
	Registered bool       `json:"registered"`
	RunCount   int        `json:"run_count"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRunAt  string     `json:"next_run_at,omitempty"`
	Projected  bool       `json:"projected,omitempty"` // next_run_at is a projection, not yet persisted
	Due        bool       `json:"due"`
	LastError  string     `json:"last_error,omitempty"`
}

// Status reports every enumerated instance without mutating anything.
func (s *Service) Status() ([]StatusRow, error) {
	now := s.now()
	insts, err := s.enumerate()
	if err != nil {
		return nil, err
	}

	rows := make([]StatusRow, 0, len(insts))
	for _, inst := range insts {
		row := StatusRow{
			Handle:     inst.Handle(),
			Name:       inst.Template.Name,
			Registered: inst.State.Credential != "",
			RunCount:   inst.State.RunCount,
			LastRun:    inst.State.LastRun,
			NextRunAt:  inst.State.NextRunAt,
			Due:        scheduler.Due(inst, now),
			LastError:  inst.State.LastError,
		}
		// Never-scheduled instances still get a best-known projection for
		// reporting; the run pass is what persists the real assignment.
		if row.NextRunAt == "" {
			row.NextRunAt = s.Calc.InitialRunAt(inst.Template.Schedule, now).
				UTC().Format(time.RFC3339Nano)
			row.Projected = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RecentEvents returns up to n of the newest activity events for handle,
// oldest first. A handle with no activity log yields an empty slice.
func (s *Service) RecentEvents(handle string, n int) ([]events.Event, error) {
	return events.Tail(s.Paths.ActivityLog(handle), n)
}
