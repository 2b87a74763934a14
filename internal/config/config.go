// Package config loads the fleet configuration document and merges it with
// documented defaults into an explicit typed structure. Nothing here is
// global: the resulting Config is constructed once and passed to every
// component that needs it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/schedule"
)

// Platform-level fallbacks applied when the document leaves a field unset or
// supplies an invalid (non-positive or unparseable) value.
const (
	DefaultInterval        = 30 * time.Minute
	DefaultRequestTimeout  = 15 * time.Second
	DefaultActionTimeout   = 5 * time.Minute
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultMaxParallelRuns = 1
)

// DefaultAgentCommand is used when neither the platform block nor the agent
// supplies a command template.
const DefaultAgentCommand = "claude -p {prompt}"

// Config is the fully-merged configuration for one invocation.
type Config struct {
	Platform Platform
	Storage  Storage
	Agents   []instance.Template
}

// Platform holds fleet-wide settings.
type Platform struct {
	APIBase          string
	RequestTimeout   time.Duration
	MaxParallelRuns  int
	RestrictToConfig bool
	OnlyDue          bool
	ScheduleDefaults schedule.Spec
	AgentCommand     string
	ActionTimeout    time.Duration
	SessionTimeout   time.Duration
}

// Storage selects and locates the instance store backend.
type Storage struct {
	Backend string // "file" (default) or "sqlite"
	Dir     string // data root; per-instance dirs live here for both backends
	Path    string // sqlite database path; defaults under Dir
}

// document mirrors the YAML layout. Durations are strings so that invalid
// values can fall back to defaults instead of failing the whole decode.
type document struct {
	Platform platformDoc `yaml:"platform"`
	Storage  storageDoc  `yaml:"storage"`
	Agents   []agentDoc  `yaml:"agents"`
}

type platformDoc struct {
	APIBase          string      `yaml:"api_base"`
	RequestTimeout   string      `yaml:"request_timeout"`
	MaxParallelRuns  *int        `yaml:"max_parallel_runs"`
	RestrictToConfig *bool       `yaml:"restrict_to_config"`
	OnlyDue          *bool       `yaml:"only_due"`
	ScheduleDefaults scheduleDoc `yaml:"schedule_defaults"`
	AgentCommand     string      `yaml:"agent_command"`
	ActionTimeout    string      `yaml:"action_timeout"`
	SessionTimeout   string      `yaml:"session_timeout"`
}

type storageDoc struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Path    string `yaml:"path"`
}

type scheduleDoc struct {
	Interval     string `yaml:"interval"`
	Jitter       string `yaml:"jitter"`
	Offset       string `yaml:"offset"`
	InitialDelay string `yaml:"initial_delay"`
	OnlyDue      *bool  `yaml:"only_due"`
	Cron         string `yaml:"cron"`
}

type agentDoc struct {
	Handle       string       `yaml:"handle"`
	Name         string       `yaml:"name"`
	Persona      string       `yaml:"persona"`
	Schedule     *scheduleDoc `yaml:"schedule"`
	AgentCommand string       `yaml:"agent_command"`
	Credential   string       `yaml:"credential"`
	FullSession  bool         `yaml:"full_session"`
}

// Load reads, decodes, and merges the configuration document at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var doc document
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	cfg, err := merge(doc)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// merge turns a decoded document into a Config, applying named fallbacks.
// Missing or invalid numeric fields normalize to defaults; wrong YAML shapes
// were already rejected by the strict decode.
func merge(doc document) (Config, error) {
	p := Platform{
		APIBase:         strings.TrimRight(strings.TrimSpace(doc.Platform.APIBase), "/"),
		RequestTimeout:  durationOr(doc.Platform.RequestTimeout, DefaultRequestTimeout),
		MaxParallelRuns: DefaultMaxParallelRuns,
		OnlyDue:         true,
		AgentCommand:    strings.TrimSpace(doc.Platform.AgentCommand),
		ActionTimeout:   durationOr(doc.Platform.ActionTimeout, DefaultActionTimeout),
		SessionTimeout:  durationOr(doc.Platform.SessionTimeout, DefaultSessionTimeout),
	}
	if doc.Platform.MaxParallelRuns != nil && *doc.Platform.MaxParallelRuns > 0 {
		p.MaxParallelRuns = *doc.Platform.MaxParallelRuns
	}
	if doc.Platform.RestrictToConfig != nil {
		p.RestrictToConfig = *doc.Platform.RestrictToConfig
	}
	if doc.Platform.OnlyDue != nil {
		p.OnlyDue = *doc.Platform.OnlyDue
	}
	if p.AgentCommand == "" {
		p.AgentCommand = DefaultAgentCommand
	}

	base := schedule.Spec{
		Interval: DefaultInterval,
		OnlyDue:  p.OnlyDue,
	}
	p.ScheduleDefaults = mergeSchedule(base, doc.Platform.ScheduleDefaults)
	if err := p.ScheduleDefaults.Validate(); err != nil {
		return Config{}, fmt.Errorf("platform.schedule_defaults: %w", err)
	}

	st := Storage{
		Backend: strings.ToLower(strings.TrimSpace(doc.Storage.Backend)),
		Dir:     strings.TrimSpace(doc.Storage.Dir),
		Path:    strings.TrimSpace(doc.Storage.Path),
	}
	if st.Backend == "" {
		st.Backend = "file"
	}
	if st.Backend != "file" && st.Backend != "sqlite" {
		return Config{}, fmt.Errorf("storage.backend: unknown backend %q (want file or sqlite)", st.Backend)
	}
	if st.Dir == "" {
		st.Dir = DefaultDataDir()
	}
	if st.Backend == "sqlite" && st.Path == "" {
		st.Path = filepath.Join(st.Dir, "apiary.db")
	}

	seen := make(map[string]struct{}, len(doc.Agents))
	agents := make([]instance.Template, 0, len(doc.Agents))
	for i, a := range doc.Agents {
		handle := strings.TrimSpace(a.Handle)
		if err := instance.ValidateHandle(handle); err != nil {
			return Config{}, fmt.Errorf("agents[%d]: %w", i, err)
		}
		if _, dup := seen[handle]; dup {
			return Config{}, fmt.Errorf("agents[%d]: duplicate handle %q", i, handle)
		}
		seen[handle] = struct{}{}

		spec := p.ScheduleDefaults
		if a.Schedule != nil {
			spec = mergeSchedule(p.ScheduleDefaults, *a.Schedule)
		}
		if err := spec.Validate(); err != nil {
			return Config{}, fmt.Errorf("agents[%d] (%s): %w", i, handle, err)
		}

		command := strings.TrimSpace(a.AgentCommand)
		if command == "" {
			command = p.AgentCommand
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = handle
		}

		agents = append(agents, instance.Template{
			Handle:      handle,
			Name:        name,
			Persona:     a.Persona,
			Schedule:    spec,
			Command:     command,
			Credential:  strings.TrimSpace(a.Credential),
			FullSession: a.FullSession,
		})
	}

	return Config{Platform: p, Storage: st, Agents: agents}, nil
}

// mergeSchedule overlays the set fields of doc onto base.
func mergeSchedule(base schedule.Spec, doc scheduleDoc) schedule.Spec {
	out := base
	out.Interval = positiveDurationOr(doc.Interval, base.Interval)
	out.Jitter = durationOr(doc.Jitter, base.Jitter)
	out.Offset = durationOr(doc.Offset, base.Offset)
	out.InitialDelay = durationOr(doc.InitialDelay, base.InitialDelay)
	if doc.OnlyDue != nil {
		out.OnlyDue = *doc.OnlyDue
	}
	if cron := strings.TrimSpace(doc.Cron); cron != "" {
		out.Cron = cron
	}
	return out
}

// durationOr parses raw as a Go duration, falling back to def when the value
// is empty, unparseable, or negative. This helper never returns a negative
// duration; zero intervals are rejected later by Spec.Validate.
func durationOr(raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// positiveDurationOr is durationOr with zero also treated as invalid.
// Intervals may never normalize to zero or negative values.
func positiveDurationOr(raw string, def time.Duration) time.Duration {
	d := durationOr(raw, def)
	if d <= 0 {
		return def
	}
	return d
}

// DefaultDataDir returns the default data root, honoring APIARY_DATA_DIR.
func DefaultDataDir() string {
	if d := os.Getenv("APIARY_DATA_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".local", "share", "apiary")
	}
	return filepath.Join(home, ".local", "share", "apiary")
}
