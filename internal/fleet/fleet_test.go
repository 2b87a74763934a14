package fleet

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/detextit/apiary/internal/config"
	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/schedule"
	"github.com/detextit/apiary/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeExec struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]bool
}

func (f *fakeExec) RunCycle(_ context.Context, inst *instance.Instance) error {
	f.mu.Lock()
	f.ran = append(f.ran, inst.Handle())
	f.mu.Unlock()

	if f.fail[inst.Handle()] {
		inst.State.LastError = "action failed"
		return errors.New("action failed")
	}
	inst.State.SetNextRun(testNow.Add(time.Hour))
	at := testNow
	inst.State.LastRun = &at
	inst.State.RunCount++
	inst.State.LastError = ""
	return nil
}

func agentTemplate(handle string, spec schedule.Spec) instance.Template {
	return instance.Template{
		Handle:   handle,
		Name:     handle,
		Schedule: spec,
		Command:  "true",
	}
}

func testService(t *testing.T, cfg config.Config, exec CycleRunner) (*Service, store.Store) {
	t.Helper()
	dir := t.TempDir()
	cfg.Storage = config.Storage{Backend: "file", Dir: dir}
	st, err := store.Open(cfg.Storage)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return &Service{
		Cfg:   cfg,
		Store: st,
		Paths: store.Paths{Root: dir},
		Calc:  schedule.NewCalculator(rand.NewSource(1)),
		Exec:  exec,
		Log:   zerolog.Nop(),
		Now:   func() time.Time { return testNow },
		Rand:  rand.New(rand.NewSource(1)),
	}, st
}

func TestRunAssignsFirstRunTime(t *testing.T) {
	t.Parallel()

	spec := schedule.Spec{Interval: time.Hour, InitialDelay: 30 * time.Minute, OnlyDue: true}
	cfg := config.Config{
		Platform: config.Platform{MaxParallelRuns: 1},
		Agents:   []instance.Template{agentTemplate("newbie", spec)},
	}
	exec := &fakeExec{}
	svc, st := testService(t, cfg, exec)

	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Due != 0 || len(res.Dispatched) != 0 {
		t.Errorf("instance with initial delay dispatched: %+v", res)
	}
	if len(exec.ran) != 0 {
		t.Errorf("executor ran %v, want nothing", exec.ran)
	}

	rec, ok, err := st.Get("newbie")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	next, ok := rec.State.NextRun()
	if !ok {
		t.Fatal("next_run_at not persisted")
	}
	if want := testNow.Add(30 * time.Minute); !next.Equal(want) {
		t.Errorf("next_run_at = %v, want now + initial delay = %v", next, want)
	}
}

func TestRunDispatchesBoundedSubset(t *testing.T) {
	t.Parallel()

	spec := schedule.Spec{Interval: time.Hour, OnlyDue: true}
	cfg := config.Config{Platform: config.Platform{MaxParallelRuns: 2}}
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		cfg.Agents = append(cfg.Agents, agentTemplate(h, spec))
	}
	exec := &fakeExec{}
	svc, st := testService(t, cfg, exec)

	// Everything due: persisted next-run times in the past.
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		rec := store.Record{Identity: agentTemplate(h, spec)}
		rec.State.SetNextRun(testNow.Add(-time.Minute))
		if err := st.Put(h, rec); err != nil {
			t.Fatalf("seed %s: %v", h, err)
		}
	}

	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 5 || res.Due != 5 {
		t.Errorf("total/due = %d/%d, want 5/5", res.Total, res.Due)
	}
	if len(res.Dispatched) != 2 || len(exec.ran) != 2 {
		t.Errorf("dispatched %v, ran %v, want exactly 2", res.Dispatched, exec.ran)
	}
	if len(res.Succeeded) != 2 || len(res.Failed) != 0 {
		t.Errorf("succeeded/failed = %v/%v", res.Succeeded, res.Failed)
	}

	// The two that ran advanced; the rest kept their old schedule.
	advanced := 0
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		rec, _, err := st.Get(h)
		if err != nil {
			t.Fatalf("Get %s: %v", h, err)
		}
		next, _ := rec.State.NextRun()
		if next.After(testNow) {
			advanced++
		}
	}
	if advanced != 2 {
		t.Errorf("%d instances advanced, want 2", advanced)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	spec := schedule.Spec{Interval: time.Hour, OnlyDue: true}
	cfg := config.Config{
		Platform: config.Platform{MaxParallelRuns: 2},
		Agents: []instance.Template{
			agentTemplate("good", spec),
			agentTemplate("bad", spec),
		},
	}
	exec := &fakeExec{fail: map[string]bool{"bad": true}}
	svc, st := testService(t, cfg, exec)

	stale := testNow.Add(-time.Minute)
	for _, h := range []string{"good", "bad"} {
		rec := store.Record{Identity: agentTemplate(h, spec)}
		rec.State.SetNextRun(stale)
		if err := st.Put(h, rec); err != nil {
			t.Fatalf("seed %s: %v", h, err)
		}
	}

	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run must not fail on action errors: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "bad" {
		t.Errorf("Failed = %v, want [bad]", res.Failed)
	}
	if len(res.Succeeded) != 1 || res.Succeeded[0] != "good" {
		t.Errorf("Succeeded = %v, want [good]", res.Succeeded)
	}

	rec, _, err := st.Get("bad")
	if err != nil {
		t.Fatalf("Get bad: %v", err)
	}
	if rec.State.LastError == "" {
		t.Error("failure not persisted")
	}
	next, _ := rec.State.NextRun()
	if !next.Equal(stale) {
		t.Errorf("failed instance next_run_at = %v, want unchanged %v", next, stale)
	}
}

func TestEnumerateHonorsRestrictToConfig(t *testing.T) {
	t.Parallel()

	spec := schedule.Spec{Interval: time.Hour, OnlyDue: true}
	cfg := config.Config{
		Platform: config.Platform{MaxParallelRuns: 1, RestrictToConfig: true},
		Agents:   []instance.Template{agentTemplate("known", spec)},
	}
	svc, st := testService(t, cfg, &fakeExec{})

	ghost := store.Record{Identity: agentTemplate("ghost", spec)}
	if err := st.Put("ghost", ghost); err != nil {
		t.Fatalf("seed ghost: %v", err)
	}

	rows, err := svc.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(rows) != 1 || rows[0].Handle != "known" {
		t.Errorf("restricted status = %+v, want only known", rows)
	}

	svc.Cfg.Platform.RestrictToConfig = false
	rows, err = svc.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unrestricted status has %d rows, want 2", len(rows))
	}
	if rows[0].Handle != "known" || rows[1].Handle != "ghost" {
		t.Errorf("status order = [%s %s], want config first then stored", rows[0].Handle, rows[1].Handle)
	}
}

type fakeRegistrar struct {
	calls int
}

func (f *fakeRegistrar) Register(_ context.Context, handle, _ string) (string, error) {
	f.calls++
	return "cred-" + handle, nil
}

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()

	spec := schedule.Spec{Interval: time.Hour, OnlyDue: true}
	cfg := config.Config{
		Platform: config.Platform{MaxParallelRuns: 1},
		Agents: []instance.Template{
			agentTemplate("queen", spec),
			agentTemplate("drone", spec),
		},
	}
	exec := &fakeExec{}
	svc, st := testService(t, cfg, exec)
	reg := &fakeRegistrar{}
	svc.Reg = reg

	first, err := svc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if len(first.Provisioned) != 2 || len(first.Existing) != 0 {
		t.Errorf("first bootstrap = %+v", first)
	}
	if len(exec.ran) != 0 {
		t.Errorf("bootstrap ran actions: %v", exec.ran)
	}

	second, err := svc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if len(second.Provisioned) != 0 || len(second.Existing) != 2 {
		t.Errorf("second bootstrap = %+v", second)
	}

	if reg.calls != 2 {
		t.Errorf("registrar calls = %d, want one per agent across both bootstraps", reg.calls)
	}

	rec, ok, err := st.Get("queen")
	if err != nil || !ok {
		t.Fatalf("Get queen: ok=%v err=%v", ok, err)
	}
	if rec.State.NextRunAt == "" {
		t.Error("bootstrap left next_run_at unset")
	}
	if rec.State.Credential != "cred-queen" {
		t.Errorf("credential = %q, want bootstrap-registered value", rec.State.Credential)
	}
	if _, err := os.Stat(svc.Paths.InstanceDir("queen")); err != nil {
		t.Errorf("instance dir missing: %v", err)
	}
}

func TestStatusReportsDue(t *testing.T) {
	t.Parallel()

	spec := schedule.Spec{Interval: time.Hour, OnlyDue: true}
	cfg := config.Config{
		Platform: config.Platform{MaxParallelRuns: 1},
		Agents: []instance.Template{
			agentTemplate("ready", spec),
			agentTemplate("waiting", spec),
		},
	}
	svc, st := testService(t, cfg, &fakeExec{})

	ready := store.Record{Identity: agentTemplate("ready", spec)}
	ready.State.SetNextRun(testNow.Add(-time.Minute))
	ready.State.Credential = "key"
	ready.State.RunCount = 3
	if err := st.Put("ready", ready); err != nil {
		t.Fatal(err)
	}
	waiting := store.Record{Identity: agentTemplate("waiting", spec)}
	waiting.State.SetNextRun(testNow.Add(time.Minute))
	if err := st.Put("waiting", waiting); err != nil {
		t.Fatal(err)
	}

	rows, err := svc.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	byHandle := map[string]StatusRow{}
	for _, r := range rows {
		byHandle[r.Handle] = r
	}
	if r := byHandle["ready"]; !r.Due || !r.Registered || r.RunCount != 3 {
		t.Errorf("ready row = %+v", r)
	}
	if r := byHandle["waiting"]; r.Due || r.Registered {
		t.Errorf("waiting row = %+v", r)
	}
}
