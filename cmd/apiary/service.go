package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/detextit/apiary/internal/config"
	"github.com/detextit/apiary/internal/executor"
	"github.com/detextit/apiary/internal/fleet"
	"github.com/detextit/apiary/internal/identity"
	"github.com/detextit/apiary/internal/logging"
	"github.com/detextit/apiary/internal/platform"
	"github.com/detextit/apiary/internal/runner"
	"github.com/detextit/apiary/internal/schedule"
	"github.com/detextit/apiary/internal/store"
)

type rootOptions struct {
	ConfigPath string
	DataDir    string
	LogLevel   string
	LogFile    string
}

func defaultRootOptions() *rootOptions {
	return &rootOptions{ConfigPath: defaultConfigPath()}
}

func defaultConfigPath() string {
	if p := os.Getenv("APIARY_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(config.DefaultDataDir(), "apiary.yaml")
}

// buildService assembles the fleet service from config plus flags. The
// returned cleanup closes the store and any log sinks; call it exactly once.
func buildService(opts *rootOptions, now func() time.Time) (*fleet.Service, func(), error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.DataDir != "" {
		cfg.Storage.Dir = opts.DataDir
		if cfg.Storage.Backend == "sqlite" {
			cfg.Storage.Path = filepath.Join(opts.DataDir, "apiary.db")
		}
	}

	log, closeLog := logging.New(logging.Options{Level: opts.LogLevel, FilePath: opts.LogFile})

	st, err := store.Open(cfg.Storage)
	if err != nil {
		_ = closeLog()
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	paths := store.Paths{Root: cfg.Storage.Dir}
	calc := schedule.NewCalculator(rand.NewSource(time.Now().UnixNano()))

	exec := &executor.Executor{
		Calc:        calc,
		Runner:      runner.ExecRunner{},
		Provisioner: identity.Provisioner{Paths: paths},
		Paths:       paths,
		Opts: executor.Options{
			ActionTimeout:  cfg.Platform.ActionTimeout,
			SessionTimeout: cfg.Platform.SessionTimeout,
		},
		Log: log,
		Now: now,
	}
	svc := &fleet.Service{
		Cfg:   cfg,
		Store: st,
		Paths: paths,
		Calc:  calc,
		Exec:  exec,
		Log:   log,
		Now:   now,
	}
	if cfg.Platform.APIBase != "" {
		client := platform.NewClient(cfg.Platform.APIBase, cfg.Platform.RequestTimeout, log)
		exec.Registrar = client
		exec.Feed = client
		svc.Reg = client
	}
	cleanup := func() {
		_ = st.Close()
		_ = closeLog()
	}
	return svc, cleanup, nil
}

// parseNowFlag turns the optional --now override into a clock function.
func parseNowFlag(raw string) (func() time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--now: %w", err)
	}
	return func() time.Time { return at }, nil
}
