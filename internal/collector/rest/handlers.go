package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/watchdogd/watchdogd/internal/store"
)

// Broadcaster is the subset of the websocket broadcaster used to fan newly
// ingested reports out to live-tail dashboard clients. Declaring a local
// interface (rather than importing the concrete type) keeps the handlers
// testable with a stub and avoids a dependency from rest onto websocket.
type Broadcaster interface {
	Publish(r store.ProfileReport)
}

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewServer creates a new Server with the provided storage layer. broadcaster
// may be nil, in which case ingested reports are persisted but not fanned
// out to any live-tail subscribers.
func NewServer(store Store, broadcaster Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, broadcaster: broadcaster, logger: logger}
}

// handleHealthz responds to GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetReports responds to GET /api/v1/reports.
//
// Supported query parameters:
//
//	host_id       – exact host UUID filter (optional)
//	profile_name  – exact profile name filter (optional)
//	from          – RFC3339 start of the received_at window (required)
//	to            – RFC3339 end of the received_at window (required)
//	limit         – maximum number of results (default 100, max 1000)
//	offset        – pagination offset (default 0)
func (s *Server) handleGetReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fromStr := q.Get("from")
	toStr := q.Get("to")
	if fromStr == "" || toStr == "" {
		writeError(w, http.StatusBadRequest, "query parameters 'from' and 'to' are required (RFC3339)")
		return
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'from' must be a valid RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'to' must be a valid RFC3339 timestamp")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "'to' must be after 'from'")
		return
	}

	rq := store.ReportQuery{From: from, To: to, HostID: q.Get("host_id"), ProfileName: q.Get("profile_name")}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		rq.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		rq.Offset = offset
	}

	reports, err := s.store.QueryReports(r.Context(), rq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query reports")
		return
	}
	if reports == nil {
		reports = []store.ProfileReport{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(reports)
}

// handleGetHosts responds to GET /api/v1/hosts.
func (s *Server) handleGetHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.store.ListHosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}
	if hosts == nil {
		hosts = []store.Host{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(hosts)
}

// registerRequest is the body of POST /api/v1/ingest/register.
type registerRequest struct {
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
	AgentVersion string `json:"agent_version"`
}

// handleRegisterHost responds to POST /api/v1/ingest/register.
//
// It upserts a Host record, returning the effective host_id so that the
// reporting agent can tag subsequent report batches. There is no mTLS
// client certificate to derive identity from, so hostname is taken from
// the request body as-is.
func (s *Server) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname must not be empty")
		return
	}

	now := time.Now().UTC()
	host := store.Host{
		HostID:       uuid.NewString(),
		Hostname:     req.Hostname,
		Platform:     req.Platform,
		AgentVersion: req.AgentVersion,
		LastSeen:     &now,
		Status:       store.HostStatusOnline,
	}

	effectiveID, err := s.store.UpsertHost(r.Context(), host)
	if err != nil {
		s.logger.Error("register: upsert host failed", "hostname", req.Hostname, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register host")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"host_id":        effectiveID,
		"server_time_us": now.UnixMicro(),
	})
}

// ingestSnapshot mirrors reporter.snapshotDTO; it is the wire format a
// reporter batch's Profiles field decodes into.
type ingestSnapshot struct {
	Profile   string     `json:"profile"`
	Phase     string     `json:"phase"`
	FirstSeen *time.Time `json:"first_seen,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Exiting   bool       `json:"exiting"`
}

// ingestBatch mirrors queue.Report, the unit the reporter POSTs.
type ingestBatch struct {
	Host      string          `json:"host"`
	Timestamp time.Time       `json:"timestamp"`
	Profiles  json.RawMessage `json:"profiles"`
}

// maxReportAge bounds how stale an ingested batch's timestamp may be before
// it is rejected, guarding against a reporter with a badly wrong clock
// silently backfilling history.
const maxReportAge = 24 * time.Hour

// handleIngestReports responds to POST /api/v1/ingest/reports.
//
// The request body is a JSON array of batches, one per scheduler tick the
// reporter drained. Each batch's Profiles field is decoded into individual
// per-profile rows and persisted via BatchInsertReports; the owning host is
// upserted by hostname on first sight of a batch carrying an unknown host.
func (s *Server) handleIngestReports(w http.ResponseWriter, r *http.Request) {
	var batches []ingestBatch
	if err := json.NewDecoder(r.Body).Decode(&batches); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if len(batches) == 0 {
		writeError(w, http.StatusBadRequest, "request body must contain at least one batch")
		return
	}

	now := time.Now().UTC()
	hostIDs := make(map[string]string)

	for _, b := range batches {
		if b.Host == "" {
			writeError(w, http.StatusBadRequest, "batch host must not be empty")
			return
		}
		if b.Timestamp.IsZero() {
			writeError(w, http.StatusBadRequest, "batch timestamp is required")
			return
		}
		if b.Timestamp.Before(now.Add(-maxReportAge)) {
			writeError(w, http.StatusBadRequest, "batch timestamp is too old")
			return
		}
		if b.Timestamp.After(now.Add(60 * time.Second)) {
			writeError(w, http.StatusBadRequest, "batch timestamp is too far in the future")
			return
		}

		hostID, ok := hostIDs[b.Host]
		if !ok {
			var err error
			hostID, err = s.store.UpsertHost(r.Context(), store.Host{
				HostID:   uuid.NewString(),
				Hostname: b.Host,
				LastSeen: &b.Timestamp,
				Status:   store.HostStatusOnline,
			})
			if err != nil {
				s.logger.Error("ingest_reports: upsert host failed", "host", b.Host, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to resolve host")
				return
			}
			hostIDs[b.Host] = hostID
		}

		var snaps []ingestSnapshot
		if len(b.Profiles) > 0 {
			if err := json.Unmarshal(b.Profiles, &snaps); err != nil {
				writeError(w, http.StatusBadRequest, "batch profiles is not valid JSON")
				return
			}
		}

		for _, snap := range snaps {
			detail, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			report := store.ProfileReport{
				ReportID:    uuid.NewString(),
				HostID:      hostID,
				ProfileName: snap.Profile,
				Phase:       store.Phase(snap.Phase),
				Timestamp:   b.Timestamp,
				Detail:      detail,
				ReceivedAt:  now,
			}
			if err := s.store.BatchInsertReports(r.Context(), report); err != nil {
				s.logger.Error("ingest_reports: persist report failed",
					"host", b.Host, "profile", snap.Profile, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to persist report")
				return
			}
			if s.broadcaster != nil {
				s.broadcaster.Publish(report)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"batches_accepted": len(batches)})
}
