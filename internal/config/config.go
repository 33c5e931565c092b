// Package config provides YAML configuration loading and validation for
// watchdogd: a sequence of profiles, each pairing a process pattern with
// one or more command schedules, plus the ambient daemon settings
// (logging, health endpoint, optional dashboard reporting, audit log).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watchdogd/watchdogd/internal/pattern"
)

// Duration wraps time.Duration so YAML fields accept the human-readable
// form time.ParseDuration understands ("5s", "10m", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or \"10m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the top-level configuration structure for watchdogd.
type Config struct {
	// Profiles is the ordered list of process profiles to watch. Order is
	// significant: the scheduler ticks profiles in this declaration order.
	Profiles []Profile `yaml:"profiles"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the /healthz HTTP server
	// (e.g. "127.0.0.1:9000"). Defaults to "127.0.0.1:9000" when omitted.
	HealthAddr string `yaml:"health_addr"`

	// SamplingInterval is the scheduler's fixed global tick cadence.
	// Defaults to 3s when omitted. Distinct from a profile's own
	// (advisory, unused) interval field.
	SamplingInterval Duration `yaml:"sampling_interval"`

	// AuditLogPath, when set, enables the tamper-evident audit log of
	// fired actions at this path. Disabled when omitted.
	AuditLogPath string `yaml:"audit_log_path,omitempty"`

	// Dashboard configures the optional outbound reporting of profile
	// snapshots to a remote collector. Reporting is disabled entirely when
	// Dashboard.Addr is empty.
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DashboardConfig configures the reporter's connection to a
// watchdog-collectord instance.
type DashboardConfig struct {
	// Addr is the collector's base URL (e.g. "https://collector.example.com").
	// Empty disables reporting.
	Addr string `yaml:"addr"`

	// QueuePath is the local SQLite queue file used to buffer snapshots
	// for at-least-once delivery when the collector is unreachable.
	// Defaults to "watchdogd-report-queue.db" when omitted and Addr is set.
	QueuePath string `yaml:"queue_path"`

	// TLS holds client certificate paths for mutual TLS against the
	// collector. All three are optional; when unset, the reporter uses
	// the system root CA pool and no client certificate.
	TLS TLSConfig `yaml:"tls"`

	// Token is a bearer token sent with every report request, validated
	// by the collector's JWT middleware.
	Token string `yaml:"token,omitempty"`
}

// TLSConfig holds certificate and key paths for mTLS.
type TLSConfig struct {
	CertPath string `yaml:"cert_path,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	CAPath   string `yaml:"ca_path,omitempty"`
}

// Profile is one process profile: a pattern plus its ordered command
// schedules, and the advisory, core-unused interval/keep_watch fields.
type Profile struct {
	// Name is a human-readable identifier used only in logs and in the
	// optional reporting surface; it plays no role in matching.
	Name string `yaml:"name"`

	Matching MatchingConfig  `yaml:"matching"`
	Commands []CommandConfig `yaml:"commands"`

	// Interval is advisory only: the scheduler uses a single global
	// sampling cadence and does not honour a per-profile override.
	Interval Duration `yaml:"interval,omitempty"`

	// KeepWatch is parsed but has no documented effect on the core.
	KeepWatch bool `yaml:"keep_watch,omitempty"`
}

// MatchingConfig is the raw, pre-compiled form of a profile's pattern.
type MatchingConfig struct {
	Location string `yaml:"location"`
	Pattern  string `yaml:"pattern"`
	Regex    bool   `yaml:"regex"`
}

// CommandConfig is the raw, pre-parsed form of one command schedule.
type CommandConfig struct {
	Condition ConditionConfig `yaml:"condition"`
	Exec      []string        `yaml:"exec"`
	ExecEnd   []string        `yaml:"exec_end,omitempty"`
	RunOnce   bool            `yaml:"run_once,omitempty"`
}

// ConditionConfig is the raw {seen|not_seen: duration} condition shape.
// Exactly one of Seen/NotSeen must be set, enforced by validate.
type ConditionConfig struct {
	Seen    string `yaml:"seen,omitempty"`
	NotSeen string `yaml:"not_seen,omitempty"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLocations = map[string]bool{
	"exe_path": true,
	"cmdline":  true,
	"name":     true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates all required fields, including
// compiling every regex pattern so an invalid one is reported here — a
// class-1 configuration error — rather than surfacing from the matcher.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9000"
	}
	if cfg.SamplingInterval == 0 {
		cfg.SamplingInterval = Duration(3 * time.Second)
	}
	if cfg.Dashboard.Addr != "" && cfg.Dashboard.QueuePath == "" {
		cfg.Dashboard.QueuePath = "watchdogd-report-queue.db"
	}
}

// validate checks required fields, enumerated values, regex compilability,
// and non-empty argv, collecting every failure via errors.Join so an
// operator sees the whole list of problems in one run.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if len(cfg.Profiles) == 0 {
		errs = append(errs, errors.New("at least one profile is required"))
	}

	for i, p := range cfg.Profiles {
		prefix := fmt.Sprintf("profiles[%d]", i)

		if !validLocations[p.Matching.Location] {
			errs = append(errs, fmt.Errorf("%s: matching.location %q must be one of: exe_path, cmdline, name", prefix, p.Matching.Location))
		}
		if p.Matching.Pattern == "" {
			errs = append(errs, fmt.Errorf("%s: matching.pattern is required", prefix))
		}
		if p.Matching.Regex {
			if _, err := pattern.NewRegexp(p.Matching.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("%s: matching.pattern: %w", prefix, err))
			}
		}
		if len(p.Commands) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one command is required", prefix))
		}

		for j, c := range p.Commands {
			cprefix := fmt.Sprintf("%s.commands[%d]", prefix, j)

			hasSeen := c.Condition.Seen != ""
			hasNotSeen := c.Condition.NotSeen != ""
			switch {
			case hasSeen == hasNotSeen:
				errs = append(errs, fmt.Errorf("%s: condition must set exactly one of seen, not_seen", cprefix))
			case hasSeen:
				if _, err := time.ParseDuration(c.Condition.Seen); err != nil {
					errs = append(errs, fmt.Errorf("%s: condition.seen: %w", cprefix, err))
				}
			case hasNotSeen:
				if _, err := time.ParseDuration(c.Condition.NotSeen); err != nil {
					errs = append(errs, fmt.Errorf("%s: condition.not_seen: %w", cprefix, err))
				}
			}

			if len(c.Exec) == 0 {
				errs = append(errs, fmt.Errorf("%s: exec must not be empty", cprefix))
			}
			if c.ExecEnd != nil && len(c.ExecEnd) == 0 {
				errs = append(errs, fmt.Errorf("%s: exec_end must not be empty when present", cprefix))
			}
		}
	}

	return errors.Join(errs...)
}
