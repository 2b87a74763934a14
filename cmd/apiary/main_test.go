package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/detextit/apiary/internal/fleet"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`platform:
  max_parallel_runs: 2
  agent_command: "echo {handle}"
  schedule_defaults:
    interval: 1h
storage:
  backend: file
  dir: %s
agents:
  - handle: worker
    name: Worker
    credential: token-1
`, dir)
	path := filepath.Join(dir, "apiary.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "apiary ") {
		t.Errorf("version output = %q", out)
	}
}

func TestRunCmdExecutesPass(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "run", "--config", cfgPath, "--format", "json")
	if err != nil {
		t.Fatalf("run: %v\noutput: %s", err, out)
	}

	var res fleet.PassResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Total != 1 || res.Due != 1 {
		t.Errorf("total/due = %d/%d, want 1/1", res.Total, res.Due)
	}
	if len(res.Succeeded) != 1 || res.Succeeded[0] != "worker" {
		t.Errorf("succeeded = %v, want [worker]", res.Succeeded)
	}

	state, err := os.ReadFile(filepath.Join(dir, "instances", "worker", "state.json"))
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if !strings.Contains(string(state), `"run_count": 1`) && !strings.Contains(string(state), `"run_count":1`) {
		t.Errorf("state = %s, want run_count 1", state)
	}
}

func TestRunCmdRejectsBadFormat(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	_, err := execute(t, "run", "--config", cfgPath, "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "--format") {
		t.Errorf("err = %v, want format complaint", err)
	}
}

func TestRunCmdMissingConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	var coded *exitError
	if !errors.As(err, &coded) {
		t.Fatalf("err = %T %v, want *exitError", err, err)
	}
	if coded.Code != 2 {
		t.Errorf("exit code = %d, want 2 for config errors", coded.Code)
	}
}

func TestBootstrapThenStatus(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "bootstrap", "--config", cfgPath)
	if err != nil {
		t.Fatalf("bootstrap: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "provisioned  worker") {
		t.Errorf("bootstrap output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "instances", "worker", "profile.md")); err != nil {
		t.Errorf("profile missing: %v", err)
	}

	out, err = execute(t, "status", "--config", cfgPath)
	if err != nil {
		t.Fatalf("status: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "HANDLE") || !strings.Contains(out, "worker") {
		t.Errorf("status output = %q", out)
	}
}

func TestStatusJSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "status", "--config", cfgPath, "--format", "json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var rows []fleet.StatusRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].Handle != "worker" {
		t.Errorf("rows = %+v", rows)
	}
	if rows[0].Registered {
		t.Error("unbootstrapped instance reported as registered")
	}
}

func TestRunCmdNowOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	// Bootstrap pins next_run_at near the real clock; a --now far in the
	// past must then see nothing due.
	if _, err := execute(t, "bootstrap", "--config", cfgPath); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	out, err := execute(t, "run", "--config", cfgPath, "--format", "json",
		"--now", "2000-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res fleet.PassResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Due != 0 || len(res.Dispatched) != 0 {
		t.Errorf("past --now still dispatched: %+v", res)
	}
}

func TestParseNowFlag(t *testing.T) {
	if fn, err := parseNowFlag(""); err != nil || fn != nil {
		t.Errorf("empty now = %p/%v", fn, err)
	}
	fn, err := parseNowFlag("2026-03-01T12:00:00Z")
	if err != nil {
		t.Fatalf("parseNowFlag: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !fn().Equal(want) {
		t.Errorf("now = %v, want %v", fn(), want)
	}
	if _, err := parseNowFlag("yesterday"); err == nil {
		t.Error("bad now accepted")
	}
}
