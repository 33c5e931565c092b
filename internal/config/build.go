package config

import (
	"fmt"
	"time"

	"github.com/watchdogd/watchdogd/internal/condition"
	"github.com/watchdogd/watchdogd/internal/pattern"
	"github.com/watchdogd/watchdogd/internal/profile"
)

// BuildJobs translates a validated Config into the ordered profile jobs the
// scheduler runs. Config must already have passed validate (via
// LoadConfig); BuildJobs does not re-validate, and returns an error for a
// malformed regex, an unrecognised location, a bad condition or an empty
// exec, which are the cases LoadConfig already rejects.
func BuildJobs(cfg *Config) ([]*profile.Job, error) {
	jobs := make([]*profile.Job, 0, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		job, err := buildJob(p)
		if err != nil {
			return nil, fmt.Errorf("config: profiles[%d]: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func buildJob(p Profile) (*profile.Job, error) {
	pat, err := buildPattern(p.Matching)
	if err != nil {
		return nil, err
	}

	schedules := make([]*profile.Schedule, 0, len(p.Commands))
	for j, c := range p.Commands {
		sched, err := buildSchedule(c)
		if err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", j, err)
		}
		schedules = append(schedules, sched)
	}

	job := profile.NewJob(p.Name, pat, schedules)
	job.Interval = p.Interval.Std()
	job.KeepWatch = p.KeepWatch
	return job, nil
}

func buildPattern(m MatchingConfig) (pattern.Pattern, error) {
	var loc pattern.Location
	switch m.Location {
	case "exe_path":
		loc = pattern.ExePath
	case "cmdline":
		loc = pattern.Cmdline
	case "name":
		loc = pattern.Name
	default:
		return pattern.Pattern{}, fmt.Errorf("unrecognised matching.location %q", m.Location)
	}

	if m.Regex {
		re, err := pattern.NewRegexp(m.Pattern)
		if err != nil {
			return pattern.Pattern{}, err
		}
		return pattern.New(loc, re), nil
	}
	return pattern.New(loc, pattern.Literal(m.Pattern)), nil
}

func buildSchedule(c CommandConfig) (*profile.Schedule, error) {
	cond, err := buildCondition(c.Condition)
	if err != nil {
		return nil, err
	}
	if len(c.Exec) == 0 {
		return nil, fmt.Errorf("exec must not be empty")
	}
	return &profile.Schedule{
		Condition: cond,
		Exec:      c.Exec,
		ExecEnd:   c.ExecEnd,
		RunOnce:   c.RunOnce,
	}, nil
}

func buildCondition(c ConditionConfig) (condition.Condition, error) {
	switch {
	case c.Seen != "":
		d, err := time.ParseDuration(c.Seen)
		if err != nil {
			return condition.Condition{}, fmt.Errorf("condition.seen: %w", err)
		}
		return condition.Seen(d), nil
	case c.NotSeen != "":
		d, err := time.ParseDuration(c.NotSeen)
		if err != nil {
			return condition.Condition{}, fmt.Errorf("condition.not_seen: %w", err)
		}
		return condition.NotSeen(d), nil
	default:
		return condition.Condition{}, fmt.Errorf("condition must set exactly one of seen, not_seen")
	}
}
