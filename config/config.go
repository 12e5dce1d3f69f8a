// Package config loads the process configuration for the taskrun binary:
// ledger store, engine limits, on-demand admission, and the cron profiles
// that drive recurring tasks.
//
// Files are YAML. Environment variables are expanded before parsing, so a
// DSN can be written as "${TASKRUN_DSN}". LoadEnv reads optional .env files
// first; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/cron"
)

// ErrInvalid is wrapped by every problem Validate reports.
var ErrInvalid = errors.New("config: invalid")

// Store drivers understood by the CLI.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBun      = "bun"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

var drivers = []string{DriverMemory, DriverSQLite, DriverPostgres, DriverBun, DriverRedis, DriverMongo}

// File is the root of a configuration file.
type File struct {
	Log        Log        `yaml:"log"`
	Store      Store      `yaml:"store"`
	Engine     Engine     `yaml:"engine"`
	Workflow   Workflow   `yaml:"workflow"`
	Enrollment Enrollment `yaml:"enrollment"`
	// Location is the IANA zone cron expressions are evaluated in.
	Location string    `yaml:"location"`
	Profiles []Profile `yaml:"profiles"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	// Audit logs every dispatch lifecycle event as an audit line.
	Audit bool `yaml:"audit"`
}

// Store selects and addresses the ledger backend.
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Database names the MongoDB database.
	Database string `yaml:"database"`
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `yaml:"key_prefix"`
	// BusyTimeout applies to SQLite.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// Engine mirrors taskrun.Config.
type Engine struct {
	Concurrency     int           `yaml:"concurrency"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	RecordTimeout   time.Duration `yaml:"record_timeout"`
	SummaryLimit    int           `yaml:"summary_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Workflow configures on-demand admission.
type Workflow struct {
	// RateLimit is runs per second; zero disables limiting.
	RateLimit  float64       `yaml:"rate_limit"`
	Burst      int           `yaml:"burst"`
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// Enrollment points the built-in enrollment units at their SQLite database.
// An empty DSN leaves them unregistered.
type Enrollment struct {
	DSN         string `yaml:"dsn"`
	Concurrency int    `yaml:"concurrency"`
}

// Profile is one cron profile entry.
type Profile struct {
	Name        string `yaml:"name"`
	Schedule    string `yaml:"schedule"`
	Task        string `yaml:"task"`
	ProfileID   string `yaml:"profile_id"`
	ProfileType string `yaml:"profile_type"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// LoadEnv loads the given .env files into the process environment. Missing
// files are skipped.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads, expands and decodes the file at path and fills defaults. It
// does not validate; call Validate.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML after environment expansion. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	expanded := os.ExpandEnv(string(data))

	f := &File{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	f.applyDefaults()
	return f, nil
}

func (f *File) applyDefaults() {
	def := taskrun.DefaultConfig()
	if f.Store.Driver == "" {
		f.Store.Driver = DriverMemory
	}
	if f.Store.BusyTimeout == 0 {
		f.Store.BusyTimeout = 5 * time.Second
	}
	if f.Store.Database == "" {
		f.Store.Database = "taskrun"
	}
	if f.Engine.Concurrency == 0 {
		f.Engine.Concurrency = def.Concurrency
	}
	if f.Engine.DefaultTimeout == 0 {
		f.Engine.DefaultTimeout = def.DefaultTimeout
	}
	if f.Engine.RecordTimeout == 0 {
		f.Engine.RecordTimeout = def.RecordTimeout
	}
	if f.Engine.SummaryLimit == 0 {
		f.Engine.SummaryLimit = def.SummaryLimit
	}
	if f.Engine.ShutdownTimeout == 0 {
		f.Engine.ShutdownTimeout = def.ShutdownTimeout
	}
	if f.Workflow.RateLimit > 0 && f.Workflow.Burst == 0 {
		f.Workflow.Burst = 1
	}
	if f.Location == "" {
		f.Location = "UTC"
	}
	if f.Log.Level == "" {
		f.Log.Level = "info"
	}
	if f.Log.Format == "" {
		f.Log.Format = "text"
	}
}

// Validate reports every problem in the file, joined.
func (f *File) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...)))
	}

	if !contains(drivers, f.Store.Driver) {
		add("store.driver", "unknown driver %q (want one of %s)", f.Store.Driver, strings.Join(drivers, ", "))
	}
	if f.Store.Driver != DriverMemory && strings.TrimSpace(f.Store.DSN) == "" {
		add("store.dsn", "required for driver %q", f.Store.Driver)
	}
	if f.Engine.Concurrency < 0 {
		add("engine.concurrency", "must not be negative")
	}
	if f.Engine.DefaultTimeout < 0 {
		add("engine.default_timeout", "must not be negative")
	}
	if f.Engine.RecordTimeout < 0 {
		add("engine.record_timeout", "must not be negative")
	}
	if f.Engine.SummaryLimit < 0 {
		add("engine.summary_limit", "must not be negative")
	}
	if f.Workflow.RateLimit < 0 {
		add("workflow.rate_limit", "must not be negative")
	}
	if f.Workflow.RunTimeout < 0 {
		add("workflow.run_timeout", "must not be negative")
	}
	if _, err := time.LoadLocation(f.Location); err != nil {
		add("location", "%v", err)
	}
	if _, err := f.LogLevel(); err != nil {
		add("log.level", "%v", err)
	}
	if f.Log.Format != "text" && f.Log.Format != "json" {
		add("log.format", "want text or json, got %q", f.Log.Format)
	}

	seen := make(map[string]int, len(f.Profiles))
	for i, p := range f.Profiles {
		field := fmt.Sprintf("profiles[%d]", i)
		if p.Name != "" {
			field = fmt.Sprintf("profiles[%d] (%s)", i, p.Name)
			if j, dup := seen[p.Name]; dup {
				add(field, "duplicate of profiles[%d]", j)
			}
			seen[p.Name] = i
		}
		if err := p.cronProfile().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalid, field, err))
		}
	}

	return errors.Join(errs...)
}

// EngineConfig returns the engine settings as a taskrun.Config.
func (f *File) EngineConfig() taskrun.Config {
	return taskrun.Config{
		Concurrency:     f.Engine.Concurrency,
		DefaultTimeout:  f.Engine.DefaultTimeout,
		RecordTimeout:   f.Engine.RecordTimeout,
		SummaryLimit:    f.Engine.SummaryLimit,
		ShutdownTimeout: f.Engine.ShutdownTimeout,
	}
}

// CronProfiles converts the profile entries.
func (f *File) CronProfiles() []cron.Profile {
	out := make([]cron.Profile, len(f.Profiles))
	for i, p := range f.Profiles {
		out[i] = p.cronProfile()
	}
	return out
}

// LoadLocation resolves Location.
func (f *File) LoadLocation() (*time.Location, error) {
	return time.LoadLocation(f.Location)
}

// LogLevel parses Log.Level.
func (f *File) LogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(f.Log.Level))
	return l, err
}

func (p Profile) cronProfile() cron.Profile {
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	return cron.Profile{
		Name:        p.Name,
		Schedule:    p.Schedule,
		TaskName:    p.Task,
		ProfileID:   p.ProfileID,
		ProfileType: p.ProfileType,
		Enabled:     enabled,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
