// Package store provides the PostgreSQL-backed persistence layer for the
// watchdog-collectord dashboard server. It exposes typed model structs for
// the hosts and profile_reports tables and a Store that wraps a pgxpool
// connection pool with a batched report-insert path.
package store

import (
	"encoding/json"
	"time"
)

// Phase mirrors lifetime.Phase's three values as their wire string form, so
// the storage layer has no import dependency on the engine package.
type Phase string

const (
	PhaseNeverSeen Phase = "never_seen"
	PhaseSeen      Phase = "seen"
	PhaseNotSeen   Phase = "not_seen"
)

// HostStatus represents the liveness state of a reporting watchdogd host as
// seen by the dashboard.
type HostStatus string

const (
	HostStatusOnline   HostStatus = "ONLINE"
	HostStatusOffline  HostStatus = "OFFLINE"
	HostStatusDegraded HostStatus = "DEGRADED"
)

// Host maps to the `hosts` table.
//
// IPAddress is the dotted-decimal or CIDR text representation of the
// reporting host's primary network address. An empty string is stored as
// SQL NULL. LastSeen is nil when the host has never pushed a report.
type Host struct {
	HostID       string     `json:"host_id"`
	Hostname     string     `json:"hostname"`
	IPAddress    string     `json:"ip_address,omitempty"`
	Platform     string     `json:"platform,omitempty"`
	AgentVersion string     `json:"agent_version,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Status       HostStatus `json:"status"`
}

// ProfileReport maps to the `profile_reports` partitioned table. It is one
// profile's lifetime state as of one scheduler tick on one host.
//
// Detail carries the raw JSON lifetime snapshot (phase, first_seen,
// last_seen, exiting) from the reporting host. It round-trips without
// modification: bytes received over the wire are returned verbatim on read.
type ProfileReport struct {
	ReportID    string          `json:"report_id"`
	HostID      string          `json:"host_id"`
	ProfileName string          `json:"profile_name"`
	Phase       Phase           `json:"phase"`
	Timestamp   time.Time       `json:"timestamp"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// ReportQuery carries the filter and pagination parameters for QueryReports.
//
// From and To are mandatory and bracket the received_at column, enabling
// PostgreSQL partition pruning. Limit defaults to 100 when <= 0. An empty
// HostID or ProfileName means no filter is applied on that column.
type ReportQuery struct {
	HostID      string
	ProfileName string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}
