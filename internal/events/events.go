// Package events maintains the per-instance activity log: an append-only
// JSONL file under each instance directory. Appends are the only mutation;
// replaying a cycle only ever adds lines.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Event types recorded over an instance's life.
const (
	TypeProvisioned  = "provisioned"
	TypeRegistered   = "registered"
	TypeRunStarted   = "run_started"
	TypeRunSucceeded = "run_succeeded"
	TypeRunFailed    = "run_failed"
	TypeSkipped      = "skipped"
)

// Event is one activity log line.
type Event struct {
	Time     time.Time     `json:"time"`
	Cycle    string        `json:"cycle,omitempty"`
	Handle   string        `json:"handle"`
	Type     string        `json:"type"`
	Message  string        `json:"message,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// Append writes one event to the activity log at path, creating the file and
// its directory as needed. A sibling lock file guards against interleaved
// appends from a concurrent invocation.
func Append(path string, ev Event) error {
	if ev.Handle == "" {
		return fmt.Errorf("events: handle is required")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("events: create dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("events: lock %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("events: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("events: write %s: %w", path, err)
	}
	return nil
}

// Tail returns up to n most recent events from the log at path, oldest first.
// A missing file yields no events; malformed lines are skipped.
func Tail(path string, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("events: lock %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("events: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		out = append(out, ev)
		if len(out) > n {
			out = out[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("events: scan %s: %w", path, err)
	}
	return out, nil
}
