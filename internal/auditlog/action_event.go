package auditlog

import (
	"encoding/json"
	"fmt"

	"github.com/watchdogd/watchdogd/internal/action"
)

// ActionEvent is the payload recorded for every fired exec/exec_end
// action, whether it succeeded, failed, or could not be spawned at all.
type ActionEvent struct {
	Profile string   `json:"profile"`
	Kind    string   `json:"kind"` // "exec" or "exec_end"
	Argv    []string `json:"argv"`
	Outcome string   `json:"outcome"` // "ok", "failed_exit", "spawn_error"
	Code    int      `json:"code,omitempty"`
	Stderr  string   `json:"stderr,omitempty"`
	Err     string   `json:"error,omitempty"`
}

// RecordAction appends an ActionEvent built from a profile job's action
// runner result to the log. A nil Logger is treated as "audit logging
// disabled" and RecordAction becomes a no-op, so callers do not need to
// guard every call site behind a feature check.
func (l *Logger) RecordAction(profileName, kind string, argv []string, res action.Result) error {
	if l == nil {
		return nil
	}

	ev := ActionEvent{Profile: profileName, Kind: kind, Argv: argv}
	switch res.Outcome {
	case action.Ok:
		ev.Outcome = "ok"
	case action.FailedExit:
		ev.Outcome = "failed_exit"
		ev.Code = res.Code
		ev.Stderr = string(res.Stderr)
	case action.SpawnError:
		ev.Outcome = "spawn_error"
		ev.Err = res.Err.Error()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("auditlog: marshal action event: %w", err)
	}
	_, err = l.Append(payload)
	return err
}
